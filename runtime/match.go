package runtime

import (
	"fmt"
	"strings"

	"github.com/BDNK1/procflow/runtime/diagnostic"
)

// fallbackStatement marks the fallback in clause lookups.
const fallbackStatement = -1

// declarationSearch bounds how far above the anchor line the declaring call
// is searched for when the anchor points inside a multi-line call.
const declarationSearch = 20

// visitMatch evaluates statements in order. A false condition and a
// condition failure recovered by the handler both move on to the next
// statement. The action of the first statement whose conditions all hold
// is final for the whole match, whether it succeeds, fails or is recovered.
func (r *run) visitMatch(op *MatchOp) error {
	for si, mc := range op.Cases {
		matched := true
		for ci, cond := range mc.When {
			var ok bool
			err := guard(func() (err error) {
				ok, err = cond(r.ctx, r.c)
				return err
			})
			if err != nil {
				if err = r.handle(op, err); err != nil {
					return r.clauseFailure(op, si, ci, mc.clause(ci), err)
				}
				matched = false
				break
			}
			if !ok {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		r.l.DebugContext(r.ctx, fmt.Sprintf("Match statement %d selected", si))
		return r.runClause(op, mc.Then, si, len(mc.When), mc.clause(len(mc.When)))
	}

	if op.Fallback == nil {
		return r.fail(failure{
			code:    CodeUnmatchedCase,
			summary: "Match statement unhandled, add a fallback",
		})
	}
	r.l.DebugContext(r.ctx, "Match fallback selected")
	return r.runClause(op, op.Fallback, fallbackStatement, 0, op.FallbackRef)
}

func (r *run) runClause(op *MatchOp, action Action, statement, index int, ref ClauseRef) error {
	var patch Context
	err := guard(func() (err error) {
		patch, err = action(r.ctx, r.c)
		return err
	})
	if err != nil {
		if err = r.handle(op, err); err != nil {
			return r.clauseFailure(op, statement, index, ref, err)
		}
		return nil
	}
	r.c.Merge(patch)
	return nil
}

func (r *run) clauseFailure(op *MatchOp, statement, index int, ref ClauseRef, err error) *ProcedureError {
	name := displayName(ref.Name)
	refined := r.clausePosition(op, statement, index, ref)

	what := "action"
	switch {
	case statement == fallbackStatement:
		what = "fallback"
	case index < len(op.Cases[statement].When):
		what = "condition"
	}
	label := name
	if label == "" {
		label = anonymousClause
	}

	summary := fmt.Sprintf("%s %s failed: %v", what, label, err)
	if statement != fallbackStatement {
		summary = fmt.Sprintf("statement %d %s", statement, summary)
	}
	if op.Procedure != "" {
		summary = fmt.Sprintf("%s (in procedure %s)", summary, op.Procedure)
	}

	return r.fail(failure{
		code:    MatchClauseCode(name),
		title:   CodeMatchClauseError,
		summary: summary,
		cause:   err,
		refined: refined,
	})
}

// clausePosition resolves the source position of one clause. Declarations
// that know exact positions carry them; otherwise the declaring source is
// scanned with the locator.
func (r *run) clausePosition(op *MatchOp, statement, index int, ref ClauseRef) *diagnostic.Position {
	if ref.Position != nil {
		return ref.Position
	}

	anchor := op.Source
	lines, err := r.e.formatter.SourceLines(anchor.File)
	if err != nil || anchor.Line < 1 || anchor.Line > len(lines) {
		return nil
	}

	line := declarationLine(lines, anchor.Line, anchor.Method)
	col := 0
	if line == anchor.Line && anchor.Column > 0 {
		col = anchor.Column - 1
	} else if anchor.Method != "" {
		col = diagnostic.ResolveColumn(lines[line-1], anchor.Method) - 1
	}

	model := diagnostic.LocateAt(lines, line, col)
	var tok diagnostic.Token
	var ok bool
	if statement == fallbackStatement {
		if model.Fallback != nil {
			tok, ok = *model.Fallback, true
		}
	} else {
		tok, ok = model.Clause(statement, index)
	}
	if !ok {
		return nil
	}

	p := tok.Position()
	return &p
}

// declarationLine returns the nearest line at or above line that calls
// method, or line itself.
func declarationLine(lines []string, line int, method string) int {
	if method == "" {
		return line
	}
	for n := line; n >= 1 && n > line-declarationSearch; n-- {
		if strings.Contains(lines[n-1], method+"(") {
			return n
		}
	}
	return line
}
