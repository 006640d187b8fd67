package runtime

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	goruntime "runtime"
	"strings"

	"github.com/BDNK1/procflow/runtime/diagnostic"
)

// Step function types. Builder methods accept several plain Go shapes and
// normalize them into these when the step is declared.
type (
	Predicate    func(ctx context.Context, value any) (bool, error)
	Transform    func(ctx context.Context, value any, c Context) (any, error)
	Fetch        func(ctx context.Context, c Context) (Context, error)
	Action       func(ctx context.Context, c Context) (Context, error)
	Condition    func(ctx context.Context, c Context) (bool, error)
	ErrorHandler func(ctx context.Context, err error, c Context) (Context, error)
)

// Runner runs against a context in place. A *Procedure is a Runner, which
// is what lets a procedure be used as the action of another one.
type Runner interface {
	Name() string
	Run(ctx context.Context, c Context) error
}

func toPredicate(fn any) (Predicate, error) {
	switch f := fn.(type) {
	case Predicate:
		return f, nil
	case func(context.Context, any) (bool, error):
		return f, nil
	case func(any) (bool, error):
		return func(_ context.Context, v any) (bool, error) { return f(v) }, nil
	case func(any) bool:
		return func(_ context.Context, v any) (bool, error) { return f(v), nil }, nil
	}
	return nil, shapeError("predicate", fn)
}

func toTransform(fn any) (Transform, error) {
	switch f := fn.(type) {
	case Transform:
		return f, nil
	case func(context.Context, any, Context) (any, error):
		return f, nil
	case func(any, Context) (any, error):
		return func(_ context.Context, v any, c Context) (any, error) { return f(v, c) }, nil
	case func(any, Context) any:
		return func(_ context.Context, v any, c Context) (any, error) { return f(v, c), nil }, nil
	case func(any) any:
		return func(_ context.Context, v any, _ Context) (any, error) { return f(v), nil }, nil
	}
	return nil, shapeError("transform", fn)
}

func toAction(fn any) (Action, error) {
	switch f := fn.(type) {
	case Action:
		return f, nil
	case Fetch:
		return Action(f), nil
	case Runner:
		return func(ctx context.Context, c Context) (Context, error) {
			return nil, f.Run(ctx, c)
		}, nil
	case func(context.Context, Context) (Context, error):
		return f, nil
	case func(Context) (Context, error):
		return func(_ context.Context, c Context) (Context, error) { return f(c) }, nil
	case func(Context) Context:
		return func(_ context.Context, c Context) (Context, error) { return f(c), nil }, nil
	case func(Context) error:
		return func(_ context.Context, c Context) (Context, error) { return nil, f(c) }, nil
	case func(Context):
		return func(_ context.Context, c Context) (Context, error) {
			f(c)
			return nil, nil
		}, nil
	}
	return nil, shapeError("action", fn)
}

func toFetch(fn any) (Fetch, error) {
	a, err := toAction(fn)
	if err != nil {
		return nil, shapeError("fetch", fn)
	}
	return Fetch(a), nil
}

func toCondition(fn any) (Condition, error) {
	switch f := fn.(type) {
	case Condition:
		return f, nil
	case func(context.Context, Context) (bool, error):
		return f, nil
	case func(Context) (bool, error):
		return func(_ context.Context, c Context) (bool, error) { return f(c) }, nil
	case func(Context) bool:
		return func(_ context.Context, c Context) (bool, error) { return f(c), nil }, nil
	}
	return nil, shapeError("condition", fn)
}

func toErrorHandler(fn any) (ErrorHandler, error) {
	switch f := fn.(type) {
	case ErrorHandler:
		return f, nil
	case func(context.Context, error, Context) (Context, error):
		return f, nil
	case func(error, Context) (Context, error):
		return func(_ context.Context, err error, c Context) (Context, error) { return f(err, c) }, nil
	case func(error, Context) Context:
		return func(_ context.Context, err error, c Context) (Context, error) { return f(err, c), nil }, nil
	case func(error, Context) error:
		return func(_ context.Context, err error, c Context) (Context, error) { return nil, f(err, c) }, nil
	case func(error, Context):
		return func(_ context.Context, err error, c Context) (Context, error) {
			f(err, c)
			return nil, nil
		}, nil
	}
	return nil, shapeError("error handler", fn)
}

func shapeError(role string, fn any) error {
	if fn == nil {
		return fmt.Errorf("%s is nil", role)
	}
	return fmt.Errorf("unsupported %s type %T", role, fn)
}

var closureName = regexp.MustCompile(`^(func)?\d+$`)

// funcName returns the fully qualified symbol of fn, or "" for closures,
// nil values and non-functions. Runners are named after themselves.
func funcName(fn any) string {
	if r, ok := fn.(Runner); ok {
		return r.Name()
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	f := goruntime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}
	name := strings.TrimSuffix(f.Name(), "-fm")
	if closureName.MatchString(diagnostic.ShortName(name)) {
		return ""
	}
	return name
}

// displayName is the short form of a symbol used in messages and codes.
func displayName(symbol string) string {
	if symbol == "" {
		return ""
	}
	return diagnostic.ShortName(symbol)
}
