package diagnostic

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token references one clause of a match declaration.
// Line is the zero-based index into the scanned lines and Column the
// zero-based rune offset inside that line.
type Token struct {
	Value  string `json:"value"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Position converts the token to a 1-based position spanning its text.
func (t Token) Position() Position {
	return Position{
		Line:   t.Line + 1,
		Column: t.Column + 1,
		Length: utf8.RuneCountInString(t.Value),
	}
}

// Anonymous reports whether the token does not name a symbol (a function
// literal or an expression that could not be reduced to an identifier).
func (t Token) Anonymous() bool {
	return t.Value == "" || strings.HasPrefix(t.Value, "func")
}

// MatchModel is the structure recovered from a match declaration: every
// statement as its ordered condition tokens followed by the action token,
// plus the optional fallback token.
type MatchModel struct {
	Statements [][]Token `json:"statements"`
	Fallback   *Token    `json:"fallback,omitempty"`
}

// Clause returns the token at index inside statement.
func (m MatchModel) Clause(statement, index int) (Token, bool) {
	if statement < 0 || statement >= len(m.Statements) {
		return Token{}, false
	}
	tokens := m.Statements[statement]
	if index < 0 || index >= len(tokens) {
		return Token{}, false
	}
	return tokens[index], true
}

// Locate scans lines starting at the 1-based startLine and recovers the
// structure of the match construct that begins there. A startLine below 1
// scans from the first line.
func Locate(lines []string, startLine int) MatchModel {
	return LocateAt(lines, startLine, 0)
}

// LocateAt is Locate with a zero-based rune column on the first line at which
// scanning begins, so earlier calls chained on the same line are ignored.
//
// Two depth counters are tracked. The outer one counts parentheses: depth 1
// is the argument list of the construct. The inner one counts brackets and
// braces together: depth 1 is the statement list, depth 2 a single statement.
// Tokens are collected at outer 1 / inner 2 (clauses) and at outer 1 /
// inner 0 (the fallback candidate). Scanning stops when the outer counter
// returns to zero.
func LocateAt(lines []string, startLine, startColumn int) MatchModel {
	s := &scanner{}
	first := startLine - 1
	if first < 0 {
		first = 0
		startColumn = 0
	}
	for idx := first; idx < len(lines) && !s.done; idx++ {
		skip := 0
		if idx == first {
			skip = startColumn
		}
		s.scanLine(idx, lines[idx], skip)
	}
	return s.model
}

type scanner struct {
	model MatchModel

	parens   int
	brackets int
	started  bool
	done     bool

	// quote is the delimiter of the string literal being skipped, or 0.
	quote   rune
	escaped bool

	buf     strings.Builder
	bufLine int
	bufCol  int

	statement []Token
}

func (s *scanner) scanLine(lineIdx int, line string, skip int) {
	runes := []rune(line)
	for col := 0; col < len(runes) && !s.done; col++ {
		if col < skip {
			continue
		}
		ch := runes[col]

		if s.quote != 0 {
			s.skipQuoted(ch)
			continue
		}

		switch {
		case ch == '"' || ch == '\'' || ch == '`':
			s.quote = ch
			continue
		case ch == '/' && col+1 < len(runes) && runes[col+1] == '/':
			// rest of the line is a comment
			return
		case unicode.IsSpace(ch):
			continue
		}

		switch ch {
		case '(':
			s.parens++
			s.started = true
		case ')':
			if s.parens == 1 && s.brackets == 0 && s.buf.Len() > 0 {
				tok := s.take()
				s.model.Fallback = &tok
			}
			s.parens--
			if s.started && s.parens <= 0 {
				s.done = true
			}
		case '[', '{':
			if s.parens == 1 {
				switch s.brackets {
				case 0:
					s.reset()
				case 1:
					s.statement = []Token{}
				}
			}
			s.brackets++
		case ']', '}':
			if s.parens == 1 {
				switch s.brackets {
				case 2:
					s.flush()
					s.model.Statements = append(s.model.Statements, s.statement)
					s.statement = nil
				case 1:
					s.reset()
				}
			}
			s.brackets--
		case ',':
			if s.parens == 1 {
				switch s.brackets {
				case 2:
					s.flush()
				case 0:
					s.reset()
				}
			}
		default:
			if s.parens == 1 && (s.brackets == 2 || s.brackets == 0) {
				if s.buf.Len() == 0 {
					s.bufLine = lineIdx
					s.bufCol = col
				}
				s.buf.WriteRune(ch)
			}
		}
	}
	// line comments and double-quoted strings never span lines
	if s.quote == '"' || s.quote == '\'' {
		s.quote = 0
		s.escaped = false
	}
}

func (s *scanner) skipQuoted(ch rune) {
	if s.escaped {
		s.escaped = false
		return
	}
	if ch == '\\' && s.quote != '`' {
		s.escaped = true
		return
	}
	if ch == s.quote {
		s.quote = 0
	}
}

func (s *scanner) take() Token {
	tok := Token{Value: s.buf.String(), Line: s.bufLine, Column: s.bufCol}
	s.buf.Reset()
	return tok
}

func (s *scanner) flush() {
	if s.buf.Len() == 0 {
		return
	}
	s.statement = append(s.statement, s.take())
}

func (s *scanner) reset() {
	s.buf.Reset()
}
