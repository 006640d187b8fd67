package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	goruntime "runtime"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BDNK1/procflow/runtime/diagnostic"
)

const tracerName = "github.com/BDNK1/procflow/runtime"

type executorKey struct{}

// Executor runs operation lists against a Context.
// Operations run strictly one after another; the first unrecovered failure
// stops the run and is returned as a *ProcedureError. Mutations already
// applied to the context are kept.
type Executor struct {
	l         *slog.Logger
	tracer    trace.Tracer
	formatter *diagnostic.Formatter
}

type ExecutorOption func(*Executor)

func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithFormatter sets the formatter used to render failures.
func WithFormatter(f *diagnostic.Formatter) ExecutorOption {
	return func(e *Executor) {
		if f != nil {
			e.formatter = f
		}
	}
}

func NewExecutor(l *slog.Logger, opts ...ExecutorOption) *Executor {
	if l == nil {
		l = slog.Default()
	}
	e := &Executor{
		l:         l,
		tracer:    otel.Tracer(tracerName),
		formatter: diagnostic.NewFormatter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Formatter returns the formatter failures are rendered with.
func (e *Executor) Formatter() *diagnostic.Formatter {
	return e.formatter
}

// Execute runs ops in order against c and returns c.
func (e *Executor) Execute(ctx context.Context, procedure string, ops []Operation, c Context) (Context, error) {
	if c == nil {
		c = Context{}
	}
	runID := uuid.NewString()

	ctx, span := e.tracer.Start(ctx, "procedure "+procedure, trace.WithAttributes(
		attribute.String("procflow.procedure", procedure),
		attribute.String("procflow.run_id", runID),
		attribute.Int("procflow.operations", len(ops)),
	))
	defer span.End()
	ctx = ContextWithExecutor(ctx, e)

	l := e.l.With("procedure", procedure, "run_id", runID)
	l.InfoContext(ctx, fmt.Sprintf("Executing procedure: %s", procedure), "operations", len(ops))

	for i, op := range ops {
		if perr := e.executeOperation(ctx, l, procedure, i, op, c); perr != nil {
			span.RecordError(perr)
			span.SetStatus(codes.Error, perr.Code)
			l.ErrorContext(ctx, fmt.Sprintf("Procedure aborted at operation %d", i), "code", perr.Code)
			return c, perr
		}
	}

	l.InfoContext(ctx, fmt.Sprintf("Procedure completed: %s", procedure))
	return c, nil
}

func (e *Executor) executeOperation(ctx context.Context, l *slog.Logger, procedure string, index int, op Operation, c Context) *ProcedureError {
	r := &run{e: e, ctx: ctx, l: l, procedure: procedure, index: index, c: c}

	if isNilOperation(op) {
		return r.fail(failure{
			code:    CodeInvalidOperation,
			summary: fmt.Sprintf("operation %d is nil", index),
		})
	}

	kind := op.Kind()
	ctx, span := e.tracer.Start(ctx, "operation "+string(kind), trace.WithAttributes(
		attribute.String("procflow.operation", string(kind)),
		attribute.Int("procflow.index", index),
	))
	defer span.End()

	r.ctx = ctx
	r.op = op
	l.DebugContext(ctx, fmt.Sprintf("Executing operation: %s", kind), "index", index)

	err := op.accept(r)
	if err == nil {
		return nil
	}

	var perr *ProcedureError
	if !errors.As(err, &perr) {
		perr = r.fail(failure{code: CodeUnknownExecutorError, summary: err.Error(), cause: err})
	}
	span.RecordError(perr)
	span.SetStatus(codes.Error, perr.Code)
	span.SetAttributes(attribute.String("procflow.code", perr.Code))
	return perr
}

func isNilOperation(op Operation) bool {
	if op == nil {
		return true
	}
	v := reflect.ValueOf(op)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// run is the state of one operation's execution. It implements
// operationVisitor.
type run struct {
	e         *Executor
	ctx       context.Context
	l         *slog.Logger
	procedure string
	index     int
	op        Operation
	c         Context
}

type failure struct {
	code    string
	title   string
	summary string
	cause   error
	refined *diagnostic.Position
	chain   []diagnostic.Frame
}

// fail renders f against the current operation's anchor. A ProcedureError
// raised by a nested procedure is returned unchanged so the innermost
// declaration is blamed.
func (r *run) fail(f failure) *ProcedureError {
	var nested *ProcedureError
	if errors.As(f.cause, &nested) {
		return nested
	}
	if isUnclassified(f.cause) {
		f.code = CodeUnknownExecutorError
		f.title = ""
	}
	if f.title == "" {
		f.title = f.code
	}

	var anchor SourceAnchor
	var kind Kind
	if r.op != nil {
		anchor = r.op.Anchor()
		kind = r.op.Kind()
	}

	d := r.e.formatter.Format(diagnostic.Report{
		Title:    f.title,
		Message:  f.summary,
		Code:     f.code,
		Location: anchor.Location(),
		Method:   anchor.Method,
		Refined:  f.refined,
		Chain:    f.chain,
	})

	r.l.ErrorContext(r.ctx, fmt.Sprintf("Operation failed: %s", f.summary),
		"operation", kind,
		"index", r.index,
		"code", f.code,
		"location", d.Location.String())

	return &ProcedureError{
		Code:       f.code,
		Message:    d.String(),
		Summary:    f.summary,
		Procedure:  r.procedure,
		Operation:  kind,
		Index:      r.index,
		Anchor:     anchor,
		Location:   d.Location,
		Chain:      f.chain,
		Cause:      f.cause,
		Diagnostic: d,
	}
}

// handle applies the error policy of op to err. It returns nil when the
// handler recovered the failure and the error to propagate otherwise.
func (r *run) handle(op Operation, err error) error {
	h := op.handler()
	if h == nil {
		return err
	}
	r.l.InfoContext(r.ctx, fmt.Sprintf("Handling failure of %s operation", op.Kind()), "error", err)

	var patch Context
	herr := guard(func() (err2 error) {
		patch, err2 = h(r.ctx, err, r.c)
		return err2
	})
	if herr != nil {
		return herr
	}
	r.c.Merge(patch)
	return nil
}

func (r *run) runtimeFailure(err error) *ProcedureError {
	return r.fail(failure{code: CodeRuntimeError, summary: err.Error(), cause: err})
}

func (r *run) visitValidate(op *ValidateOp) error {
	var ok bool
	err := guard(func() (err error) {
		ok, err = op.Predicate(r.ctx, r.c[op.Key])
		return err
	})
	if err != nil {
		if err = r.handle(op, err); err != nil {
			return r.runtimeFailure(err)
		}
		return nil
	}
	if ok {
		return nil
	}

	summary := fmt.Sprintf("%s is invalid", op.Key)
	if name := displayName(op.PredicateName); name != "" {
		summary += " according to " + name
	}
	return r.fail(failure{code: CodeValidationFailed, summary: summary})
}

func (r *run) visitUpdate(op *UpdateOp) error {
	var value any
	err := guard(func() (err error) {
		value, err = op.Transform(r.ctx, r.c[op.Key], r.c)
		return err
	})
	if err != nil {
		if err = r.handle(op, err); err != nil {
			return r.runtimeFailure(err)
		}
		return nil
	}
	r.c.Set(op.Key, value)
	return nil
}

func (r *run) visitLoad(op *LoadOp) error {
	var patch Context
	err := guard(func() (err error) {
		patch, err = op.Fetch(r.ctx, r.c)
		return err
	})
	if err == nil {
		r.c.Merge(patch)
		return nil
	}

	if op.handler() != nil {
		if err = r.handle(op, err); err != nil {
			return r.runtimeFailure(err)
		}
		return nil
	}

	chain := diagnostic.TruncateAt(diagnostic.StackOf(err), op.FetchName)
	return r.fail(failure{code: CodeRuntimeError, summary: err.Error(), cause: err, chain: chain})
}

func (r *run) visitDo(op *DoOp) error {
	var patch Context
	err := guard(func() (err error) {
		patch, err = op.Action(r.ctx, r.c)
		return err
	})
	if err != nil {
		if err = r.handle(op, err); err != nil {
			return r.runtimeFailure(err)
		}
		return nil
	}
	r.c.Merge(patch)
	return nil
}

func (r *run) visitInvalid(op *invalidOp) error {
	return r.fail(failure{
		code:    CodeInvalidOperation,
		summary: fmt.Sprintf("invalid %s operation: %v", op.kind, op.reason),
		cause:   op.reason,
	})
}

// panicError is a panic recovered from a step function.
type panicError struct {
	value  any
	frames []diagnostic.Frame
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (p *panicError) Unwrap() error {
	err, _ := p.value.(error)
	return err
}

func (p *panicError) Frames() []diagnostic.Frame {
	return p.frames
}

// guard calls fn and turns a panic into a *panicError carrying the stack of
// the panicking function.
func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			pcs := make([]uintptr, 32)
			n := goruntime.Callers(3, pcs)
			err = &panicError{value: v, frames: diagnostic.FramesFromPCs(pcs[:n])}
		}
	}()
	return fn()
}

// isUnclassified reports whether err is a panic whose value is not an error.
func isUnclassified(err error) bool {
	var p *panicError
	if !errors.As(err, &p) {
		return false
	}
	_, isErr := p.value.(error)
	return !isErr
}
