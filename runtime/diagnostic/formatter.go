// Package diagnostic renders step failures as code frames pointing at the
// caller's own source: the line that declared the failing step, or the exact
// clause of a match declaration recovered by the Locator.
package diagnostic

import (
	"fmt"
	"strconv"
	"strings"
)

const defaultContextLines = 2

// Report describes one failure to render.
type Report struct {
	// Title names the failure class, e.g. "ValidationFailed".
	Title   string
	Message string
	Code    string
	// Location is the declaration anchor. A zero Column is resolved from
	// the source line using Method.
	Location Location
	Method   string
	// Refined, when set, replaces the anchor position (match clauses).
	Refined *Position
	// Chain is the failure's call stack, innermost first.
	Chain []Frame
}

// Diagnostic is the structured rendering of a Report. Styling has already
// been applied through the formatter's Styler; Code is never styled.
type Diagnostic struct {
	Header   string   `json:"header"`
	Frame    string   `json:"frame,omitempty"`
	Trailer  string   `json:"trailer"`
	Chain    string   `json:"chain,omitempty"`
	Code     string   `json:"code"`
	Location Location `json:"location"`
}

func (d *Diagnostic) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{d.Header, d.Frame, d.Trailer, d.Chain} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Formatter turns Reports into Diagnostics.
type Formatter struct {
	reader       SourceReader
	styler       Styler
	contextLines int
}

type Option func(*Formatter)

func WithSourceReader(r SourceReader) Option {
	return func(f *Formatter) {
		if r != nil {
			f.reader = r
		}
	}
}

func WithStyler(s Styler) Option {
	return func(f *Formatter) {
		if s != nil {
			f.styler = s
		}
	}
}

// WithContextLines sets how many lines are shown above and below the
// resolved line.
func WithContextLines(n int) Option {
	return func(f *Formatter) {
		if n >= 0 {
			f.contextLines = n
		}
	}
}

func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{
		reader:       FileReader{},
		styler:       PlainStyler{},
		contextLines: defaultContextLines,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SourceLines reads path through the formatter's SourceReader.
func (f *Formatter) SourceLines(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("no source file")
	}
	src, err := f.reader.ReadSource(path)
	if err != nil {
		return nil, err
	}
	return SplitLines(src), nil
}

func (f *Formatter) Format(r Report) *Diagnostic {
	loc := r.Location
	lines, err := f.SourceLines(loc.File)
	if err == nil && loc.Column == 0 && loc.Line >= 1 && loc.Line <= len(lines) {
		loc.Column = ResolveColumn(lines[loc.Line-1], r.Method)
	}

	pos := Position{Line: loc.Line, Column: loc.Column}
	if r.Refined != nil {
		pos = *r.Refined
	}
	resolved := loc.At(pos)

	title := r.Title
	if title == "" {
		title = r.Code
	}

	d := &Diagnostic{
		Header:   f.styler.Style(title, Bold, Red),
		Code:     r.Code,
		Location: resolved,
	}
	if err == nil {
		d.Frame = f.codeFrame(lines, pos, r.Message)
	}
	if d.Frame == "" {
		d.Frame = r.Message
	}
	d.Trailer = f.styler.Style(resolved.String(), Dim)
	if len(r.Chain) > 0 {
		d.Chain = f.callChain(r.Chain)
	}
	return d
}

func (f *Formatter) codeFrame(lines []string, pos Position, message string) string {
	if pos.Line < 1 || pos.Line > len(lines) {
		return ""
	}
	start := max(1, pos.Line-f.contextLines)
	end := min(len(lines), pos.Line+f.contextLines)
	width := len(strconv.Itoa(end))

	head, rest, _ := strings.Cut(message, "\n")

	var b strings.Builder
	for n := start; n <= end; n++ {
		text := lines[n-1]
		gutter := fmt.Sprintf(" %*d |", width, n)
		if n == pos.Line {
			b.WriteString(f.styler.Style(">", Red, Bold))
		} else {
			b.WriteString(" ")
		}
		b.WriteString(f.styler.Style(gutter, Dim))
		if text != "" {
			b.WriteString(" " + text)
		}
		b.WriteByte('\n')

		if n != pos.Line {
			continue
		}
		marker := strings.Repeat("^", max(1, pos.Length))
		b.WriteString(" " + f.styler.Style(fmt.Sprintf(" %*s |", width, ""), Dim))
		b.WriteString(" " + padTo(text, pos.Column) + f.styler.Style(marker, Red, Bold))
		if head != "" {
			b.WriteString(" " + f.styler.Style(head, Red, Bold))
		}
		b.WriteByte('\n')
	}

	out := strings.TrimRight(b.String(), "\n")
	if rest = strings.TrimSpace(rest); rest != "" {
		out += "\n\n" + rest
	}
	return out
}

// callChain renders frames outermost first; the innermost call, the one
// that actually failed, is marked.
func (f *Formatter) callChain(frames []Frame) string {
	var b strings.Builder
	b.WriteString(f.styler.Style("Call chain:", Bold))
	for i := len(frames) - 1; i >= 0; i-- {
		b.WriteByte('\n')
		if i == 0 {
			b.WriteString(f.styler.Style("  > ", Red, Bold))
			b.WriteString(f.styler.Style(frames[i].String(), Red))
			continue
		}
		b.WriteString("    ")
		b.WriteString(f.styler.Style(frames[i].String(), Dim))
	}
	return b.String()
}

// padTo returns the whitespace that precedes the 1-based column in text,
// keeping tabs so the marker lines up in a terminal.
func padTo(text string, column int) string {
	if column <= 1 {
		return ""
	}
	runes := []rune(text)
	var b strings.Builder
	for i := 0; i < column-1; i++ {
		if i < len(runes) && runes[i] == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}
