package diagnostic_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/procflow/runtime/diagnostic"
)

var demoSource = strings.Join([]string{
	"package demo",
	"",
	"func build() {",
	"\tp.Validate(\"n\", positive)",
	"\tp.Match(nil, fallback)",
	"}",
}, "\n")

func newTestFormatter(opts ...diagnostic.Option) *diagnostic.Formatter {
	opts = append([]diagnostic.Option{
		diagnostic.WithSourceReader(diagnostic.MapReader{"demo.go": demoSource}),
	}, opts...)
	return diagnostic.NewFormatter(opts...)
}

func TestFormatCodeFrame(t *testing.T) {
	f := newTestFormatter()

	d := f.Format(diagnostic.Report{
		Title:    "ValidationFailed",
		Message:  `validation failed for key "n"`,
		Code:     "ValidationFailed",
		Location: diagnostic.Location{File: "demo.go", Line: 4},
		Method:   "Validate",
	})

	assert.Equal(t, "ValidationFailed", d.Header)
	assert.Equal(t, "ValidationFailed", d.Code)
	assert.Equal(t, diagnostic.Location{File: "demo.go", Line: 4, Column: 4}, d.Location)
	assert.Equal(t, "demo.go:4:4", d.Trailer)
	assert.Empty(t, d.Chain)

	expected := strings.Join([]string{
		"  2 |",
		"  3 | func build() {",
		"> 4 | \tp.Validate(\"n\", positive)",
		"    | \t  ^ validation failed for key \"n\"",
		"  5 | \tp.Match(nil, fallback)",
		"  6 | }",
	}, "\n")
	assert.Equal(t, expected, d.Frame)
}

func TestFormatRefinedUnderline(t *testing.T) {
	f := newTestFormatter(diagnostic.WithContextLines(0))

	d := f.Format(diagnostic.Report{
		Message:  "boom",
		Code:     "MatchClauseError:fallback",
		Location: diagnostic.Location{File: "demo.go", Line: 5},
		Method:   "Match",
		Refined:  &diagnostic.Position{Line: 5, Column: 15, Length: 8},
	})

	assert.Equal(t, "MatchClauseError:fallback", d.Header)
	assert.Equal(t, "demo.go:5:15", d.Trailer)
	assert.Equal(t, strings.Join([]string{
		"> 5 | \tp.Match(nil, fallback)",
		"    | \t             ^^^^^^^^ boom",
	}, "\n"), d.Frame)
}

func TestFormatMultilineMessage(t *testing.T) {
	f := newTestFormatter(diagnostic.WithContextLines(0))

	d := f.Format(diagnostic.Report{
		Message:  "first\nsecond detail",
		Code:     "RuntimeError",
		Location: diagnostic.Location{File: "demo.go", Line: 3, Column: 1},
	})

	assert.Equal(t, strings.Join([]string{
		"> 3 | func build() {",
		"    | ^ first",
		"",
		"second detail",
	}, "\n"), d.Frame)
}

func TestFormatUnreadableSource(t *testing.T) {
	f := newTestFormatter()

	d := f.Format(diagnostic.Report{
		Message:  "boom",
		Code:     "RuntimeError",
		Location: diagnostic.Location{File: "missing.go", Line: 3},
	})

	assert.Equal(t, "boom", d.Frame)
	assert.Equal(t, "missing.go:3", d.Trailer)
	assert.Equal(t, "RuntimeError\n\nboom\n\nmissing.go:3", d.String())
}

func TestFormatCallChain(t *testing.T) {
	f := newTestFormatter()

	d := f.Format(diagnostic.Report{
		Message:  "connection refused",
		Code:     "RuntimeError",
		Location: diagnostic.Location{File: "demo.go", Line: 3, Column: 1},
		Chain: []diagnostic.Frame{
			{Function: "example.com/app.dial", File: "/src/app/net.go", Line: 10},
			{Function: "example.com/app.(*Store).fetchUser", File: "/src/app/store.go", Line: 42},
		},
	})

	assert.Equal(t, strings.Join([]string{
		"Call chain:",
		"    fetchUser (store.go:42)",
		"  > dial (net.go:10)",
	}, "\n"), d.Chain)
	assert.True(t, strings.HasSuffix(d.String(), d.Chain))
}

func TestFormatUsesStyler(t *testing.T) {
	f := newTestFormatter(diagnostic.WithStyler(bracketStyler{}))

	d := f.Format(diagnostic.Report{
		Title:    "UnmatchedCase",
		Message:  "no statement matched",
		Code:     "UnmatchedCase",
		Location: diagnostic.Location{File: "demo.go", Line: 5},
		Method:   "Match",
	})

	assert.Equal(t, "<UnmatchedCase>", d.Header)
	assert.Equal(t, "UnmatchedCase", d.Code)
	assert.Equal(t, "<demo.go:5:4>", d.Trailer)
	assert.Contains(t, d.Frame, "<^> <no statement matched>")
}

func TestFormatterSourceLines(t *testing.T) {
	f := newTestFormatter()

	lines, err := f.SourceLines("demo.go")
	require.NoError(t, err)
	assert.Len(t, lines, 6)

	_, err = f.SourceLines("")
	assert.Error(t, err)
}

type bracketStyler struct{}

func (bracketStyler) Style(text string, effects ...diagnostic.Effect) string {
	if len(effects) == 0 {
		return text
	}
	return "<" + text + ">"
}
