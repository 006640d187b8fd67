package diagnostic

import "github.com/fatih/color"

// Effect is a text emphasis requested from a Styler.
type Effect int

const (
	Bold Effect = iota
	Dim
	Underline
	Red
	Yellow
	Cyan
)

// Styler applies emphasis to rendered text. The formatter never writes
// terminal control sequences itself.
type Styler interface {
	Style(text string, effects ...Effect) string
}

// PlainStyler returns text unchanged.
type PlainStyler struct{}

func (PlainStyler) Style(text string, _ ...Effect) string {
	return text
}

// ColorStyler renders effects with fatih/color. Unless Force is set it
// follows color.NoColor, which is derived from the terminal.
type ColorStyler struct {
	Force bool
}

var colorAttributes = map[Effect]color.Attribute{
	Bold:      color.Bold,
	Dim:       color.Faint,
	Underline: color.Underline,
	Red:       color.FgRed,
	Yellow:    color.FgYellow,
	Cyan:      color.FgCyan,
}

func (s ColorStyler) Style(text string, effects ...Effect) string {
	if len(effects) == 0 || text == "" {
		return text
	}
	attrs := make([]color.Attribute, 0, len(effects))
	for _, e := range effects {
		if a, ok := colorAttributes[e]; ok {
			attrs = append(attrs, a)
		}
	}
	c := color.New(attrs...)
	if s.Force {
		c.EnableColor()
	}
	return c.Sprint(text)
}

// StylerFor maps a color mode ("always", "never", "auto") to a Styler.
func StylerFor(mode string) Styler {
	switch mode {
	case "always":
		return ColorStyler{Force: true}
	case "never":
		return PlainStyler{}
	default:
		return ColorStyler{}
	}
}
