package diagnostic

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Position is a 1-based location inside a source file. Length is the number
// of columns to underline; zero renders a single caret.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
	Length int `json:"length,omitempty"`
}

// Location names the file a position belongs to.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (l Location) String() string {
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// At returns the location moved to p, keeping the file.
func (l Location) At(p Position) Location {
	return Location{File: l.File, Line: p.Line, Column: p.Column}
}

// ResolveColumn returns the 1-based column at which method is called on
// line. When method is empty or absent the first non-blank column is used.
func ResolveColumn(line, method string) int {
	if method != "" {
		for _, needle := range []string{"." + method + "(", method + "("} {
			if idx := strings.Index(line, needle); idx >= 0 {
				if needle[0] == '.' {
					idx++
				}
				return utf8.RuneCountInString(line[:idx]) + 1
			}
		}
	}
	for i, r := range []rune(line) {
		if !unicode.IsSpace(r) {
			return i + 1
		}
	}
	return 1
}

// SplitLines splits source text into lines, dropping carriage returns.
func SplitLines(src string) []string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	return strings.Split(src, "\n")
}
