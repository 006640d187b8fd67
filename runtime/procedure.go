package runtime

import (
	"context"
	"fmt"
)

// kindHandler names Or in InvalidOperation reports.
const kindHandler Kind = "or"

// Statement is one match statement: zero or more conditions followed by
// exactly one action.
type Statement []any

// Procedure is a named, ordered list of operations plus the default context
// they run with. It is built once and may be executed any number of times.
//
//	p := runtime.New("checkout", runtime.Context{"retries": 0}).
//		Validate("cart", notEmpty).
//		Load(fetchPrices).
//		Match([]runtime.Statement{
//			{isMember, applyDiscount},
//		}, chargeFullPrice).
//		Do(sendReceipt).Or(queueReceipt)
type Procedure struct {
	name     string
	defaults Context
	ops      []Operation
	executor *Executor
}

type ProcedureOption func(*Procedure)

// WithExecutor runs the procedure on e instead of a default executor.
func WithExecutor(e *Executor) ProcedureOption {
	return func(p *Procedure) {
		p.executor = e
	}
}

func New(name string, defaults map[string]any, opts ...ProcedureOption) *Procedure {
	p := &Procedure{
		name:     name,
		defaults: Context(defaults).Clone(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Procedure) Name() string {
	return p.name
}

// Operations returns the declared operations in order.
func (p *Procedure) Operations() []Operation {
	out := make([]Operation, len(p.ops))
	copy(out, p.ops)
	return out
}

// Defaults returns a copy of the default context.
func (p *Procedure) Defaults() Context {
	return p.defaults.Clone()
}

// Append adds already built operations. Declaration formats other than Go
// code use it together with explicit anchors.
func (p *Procedure) Append(ops ...Operation) *Procedure {
	p.ops = append(p.ops, ops...)
	return p
}

func (p *Procedure) invalid(kind Kind, anchor SourceAnchor, err error) *Procedure {
	return p.Append(&invalidOp{Guard: Guard{Source: anchor}, kind: kind, reason: err})
}

// Validate checks the value stored under key. predicate is a Predicate or
// one of func(any) bool, func(any) (bool, error) and
// func(context.Context, any) (bool, error).
func (p *Procedure) Validate(key string, predicate any) *Procedure {
	anchor := captureAnchor("Validate")
	fn, err := toPredicate(predicate)
	if err != nil {
		return p.invalid(KindValidate, anchor, err)
	}
	return p.Append(&ValidateOp{
		Guard:         Guard{Source: anchor},
		Key:           key,
		Predicate:     fn,
		PredicateName: funcName(predicate),
	})
}

// Update replaces the value stored under key with the transform's result.
func (p *Procedure) Update(key string, transform any) *Procedure {
	anchor := captureAnchor("Update")
	fn, err := toTransform(transform)
	if err != nil {
		return p.invalid(KindUpdate, anchor, err)
	}
	return p.Append(&UpdateOp{
		Guard:         Guard{Source: anchor},
		Key:           key,
		Transform:     fn,
		TransformName: funcName(transform),
	})
}

// Load merges the context patch returned by fetch.
func (p *Procedure) Load(fetch any) *Procedure {
	anchor := captureAnchor("Load")
	fn, err := toFetch(fetch)
	if err != nil {
		return p.invalid(KindLoad, anchor, err)
	}
	return p.Append(&LoadOp{
		Guard:     Guard{Source: anchor},
		Fetch:     fn,
		FetchName: funcName(fetch),
	})
}

// Do runs action for its effect. action may be another procedure, which
// then runs against the same context.
func (p *Procedure) Do(action any) *Procedure {
	anchor := captureAnchor("Do")
	fn, err := toAction(action)
	if err != nil {
		return p.invalid(KindDo, anchor, err)
	}
	return p.Append(&DoOp{
		Guard:      Guard{Source: anchor},
		Action:     fn,
		ActionName: funcName(action),
	})
}

// Match runs the action of the first statement whose conditions all hold.
// The optional fallback runs when none does; without one an unmatched run
// fails with UnmatchedCase.
func (p *Procedure) Match(statements []Statement, fallback ...any) *Procedure {
	anchor := captureAnchor("Match")
	op, err := buildMatch(p.name, statements, fallback)
	if err != nil {
		return p.invalid(KindMatch, anchor, err)
	}
	op.Source = anchor
	return p.Append(op)
}

func buildMatch(procedure string, statements []Statement, fallback []any) (*MatchOp, error) {
	if len(fallback) > 1 {
		return nil, fmt.Errorf("at most one fallback may be given, got %d", len(fallback))
	}

	op := &MatchOp{Procedure: procedure}
	for i, st := range statements {
		if len(st) == 0 {
			return nil, fmt.Errorf("statement %d has no action", i)
		}
		var mc MatchCase
		last := len(st) - 1
		for j, c := range st[:last] {
			cond, err := toCondition(c)
			if err != nil {
				return nil, fmt.Errorf("statement %d, clause %d: %w", i, j, err)
			}
			mc.When = append(mc.When, cond)
			mc.Clauses = append(mc.Clauses, ClauseRef{Name: funcName(c)})
		}
		action, err := toAction(st[last])
		if err != nil {
			return nil, fmt.Errorf("statement %d, clause %d: %w", i, last, err)
		}
		mc.Then = action
		mc.Clauses = append(mc.Clauses, ClauseRef{Name: funcName(st[last])})
		op.Cases = append(op.Cases, mc)
	}

	if len(fallback) == 1 {
		action, err := toAction(fallback[0])
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		op.Fallback = action
		op.FallbackRef = ClauseRef{Name: funcName(fallback[0])}
	}
	return op, nil
}

// Or attaches an error handler to the previously declared step. The handler
// may return nothing to recover, a patch to merge and recover, or an error
// that replaces the failure and aborts the run.
func (p *Procedure) Or(handler any) *Procedure {
	anchor := captureAnchor("Or")
	h, err := toErrorHandler(handler)
	if err != nil {
		return p.invalid(kindHandler, anchor, err)
	}
	if len(p.ops) == 0 {
		return p.invalid(kindHandler, anchor, fmt.Errorf("error handler must follow a step"))
	}
	if err := p.ops[len(p.ops)-1].attach(h); err != nil {
		return p.invalid(kindHandler, anchor, err)
	}
	return p
}

// exec picks the procedure's own executor, then the one running the
// enclosing procedure, then a default one.
func (p *Procedure) exec(ctx context.Context) *Executor {
	if p.executor != nil {
		return p.executor
	}
	if e, ok := ctx.Value(executorKey{}).(*Executor); ok {
		return e
	}
	return NewExecutor(nil)
}

// Exec runs the procedure on a fresh context built from the defaults and
// then overrides, overrides winning.
func (p *Procedure) Exec(ctx context.Context, overrides map[string]any) (Context, error) {
	c := p.defaults.Clone()
	c.Merge(overrides)
	return p.exec(ctx).Execute(ctx, p.name, p.ops, c)
}

// Run executes the procedure in place on c, first filling keys of the
// defaults that c lacks. Nested procedures run this way so they share the
// caller's context.
func (p *Procedure) Run(ctx context.Context, c Context) error {
	if c == nil {
		return fmt.Errorf("procedure %s: nil context", p.name)
	}
	c.fillMissing(p.defaults)
	_, err := p.exec(ctx).Execute(ctx, p.name, p.ops, c)
	return err
}
