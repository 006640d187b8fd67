package runtime

import (
	"fmt"

	"github.com/BDNK1/procflow/runtime/diagnostic"
)

type Kind string

const (
	KindValidate Kind = "validate"
	KindUpdate   Kind = "update"
	KindLoad     Kind = "load"
	KindMatch    Kind = "match"
	KindDo       Kind = "do"
)

// Operation is one step of a procedure. The set of implementations is
// closed: ValidateOp, UpdateOp, LoadOp, MatchOp and DoOp.
type Operation interface {
	Kind() Kind
	Anchor() SourceAnchor
	handler() ErrorHandler
	attach(h ErrorHandler) error
	accept(v operationVisitor) error
}

// operationVisitor has one method per operation kind. Adding a kind without
// teaching the executor about it does not compile.
type operationVisitor interface {
	visitValidate(op *ValidateOp) error
	visitUpdate(op *UpdateOp) error
	visitLoad(op *LoadOp) error
	visitMatch(op *MatchOp) error
	visitDo(op *DoOp) error
	visitInvalid(op *invalidOp) error
}

// Guard carries the fields every operation shares.
type Guard struct {
	Source  SourceAnchor
	OnError ErrorHandler
}

func (g *Guard) Anchor() SourceAnchor  { return g.Source }
func (g *Guard) handler() ErrorHandler { return g.OnError }

func (g *Guard) attach(h ErrorHandler) error {
	if g.OnError != nil {
		return fmt.Errorf("an error handler is already attached to this step")
	}
	g.OnError = h
	return nil
}

// ValidateOp checks Context[Key] with Predicate.
type ValidateOp struct {
	Guard
	Key           string
	Predicate     Predicate
	PredicateName string
}

func (op *ValidateOp) Kind() Kind                      { return KindValidate }
func (op *ValidateOp) accept(v operationVisitor) error { return v.visitValidate(op) }

// UpdateOp replaces Context[Key] with the result of Transform.
type UpdateOp struct {
	Guard
	Key           string
	Transform     Transform
	TransformName string
}

func (op *UpdateOp) Kind() Kind                      { return KindUpdate }
func (op *UpdateOp) accept(v operationVisitor) error { return v.visitUpdate(op) }

// LoadOp merges the patch returned by Fetch into the context.
type LoadOp struct {
	Guard
	Fetch Fetch
	// FetchName is the fully qualified symbol of the fetch function. Call
	// chains of failures are cut at the frame with the same name.
	FetchName string
}

func (op *LoadOp) Kind() Kind                      { return KindLoad }
func (op *LoadOp) accept(v operationVisitor) error { return v.visitLoad(op) }

// DoOp runs Action for its effect and merges the patch it returns, if any.
type DoOp struct {
	Guard
	Action     Action
	ActionName string
}

func (op *DoOp) Kind() Kind                      { return KindDo }
func (op *DoOp) accept(v operationVisitor) error { return v.visitDo(op) }

// ClauseRef names one condition, action or fallback of a match. Position
// is set when the declaration format knows exact clause positions; otherwise
// the clause is located by scanning the declaring source.
type ClauseRef struct {
	Name     string
	Position *diagnostic.Position
}

// MatchCase is one statement: every condition in When must hold for Then
// to run. Clauses lists When's references followed by Then's.
type MatchCase struct {
	When    []Condition
	Then    Action
	Clauses []ClauseRef
}

func (c MatchCase) clause(i int) ClauseRef {
	if i < len(c.Clauses) {
		return c.Clauses[i]
	}
	return ClauseRef{}
}

// MatchOp runs the action of the first case whose conditions all hold, or
// Fallback when none does. Without a fallback an unmatched run fails.
type MatchOp struct {
	Guard
	Cases       []MatchCase
	Fallback    Action
	FallbackRef ClauseRef
	// Procedure is the name of the procedure declaring the match.
	Procedure string
}

func (op *MatchOp) Kind() Kind                      { return KindMatch }
func (op *MatchOp) accept(v operationVisitor) error { return v.visitMatch(op) }

// invalidOp stands in for a step that could not be built, so the problem is
// reported at run time against the declaring line.
type invalidOp struct {
	Guard
	kind   Kind
	reason error
}

func (op *invalidOp) Kind() Kind                      { return op.kind }
func (op *invalidOp) accept(v operationVisitor) error { return v.visitInvalid(op) }
