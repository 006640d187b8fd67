// Package dsl turns Risor scripts into procedure step functions.
//
// A script sees the run's context as globals, the registered tasks grouped
// by plugin, and the sprintf and raise builtins. Predicates and transforms
// additionally see the checked value as "value", error handlers the failure
// as "error".
//
//	p := runtime.New("signup", nil).
//		Validate("email", dsl.Predicate(`value != ""`)).
//		Do(dsl.Action(`{"greeting": sprintf("hello %s", name)}`))
package dsl

import (
	"context"
	"errors"
	"fmt"

	"github.com/BDNK1/procflow/runtime"
)

const (
	// ValueKey names the checked value in predicates and transforms.
	ValueKey = "value"
	// ErrorKey names the failure in error handlers.
	ErrorKey = "error"
)

// Engine builds step functions from scripts. The zero value is not usable;
// create engines with NewEngine.
type Engine struct {
	interpreter *Interpreter
	registry    *runtime.Registry
}

// NewEngine returns an engine whose scripts may call the tasks of registry.
// registry may be nil.
func NewEngine(registry *runtime.Registry) *Engine {
	return &Engine{interpreter: &Interpreter{}, registry: registry}
}

var defaultEngine = NewEngine(nil)

// Check reports syntax errors in src.
func (e *Engine) Check(src string) error {
	return e.interpreter.Check(context.Background(), src)
}

// Eval runs src against c. extra globals shadow context keys.
func (e *Engine) Eval(ctx context.Context, src string, c runtime.Context, extra map[string]any) (any, error) {
	globals := make(map[string]any, len(c)+len(extra)+4)
	for k, v := range taskGlobals(ctx, e.registry) {
		globals[k] = v
	}
	for k, v := range c {
		globals[k] = v
	}
	for k, v := range builtinGlobals() {
		globals[k] = v
	}
	for k, v := range extra {
		globals[k] = v
	}
	return e.interpreter.Eval(ctx, src, globals)
}

func (e *Engine) Condition(src string) runtime.Condition {
	return func(ctx context.Context, c runtime.Context) (bool, error) {
		v, err := e.Eval(ctx, src, c, nil)
		if err != nil {
			return false, err
		}
		return asBool(src, v)
	}
}

func (e *Engine) Predicate(src string) runtime.Predicate {
	return func(ctx context.Context, value any) (bool, error) {
		v, err := e.Eval(ctx, src, nil, map[string]any{ValueKey: value})
		if err != nil {
			return false, err
		}
		return asBool(src, v)
	}
}

// Transform returns the script's value as the new value of the key.
func (e *Engine) Transform(src string) runtime.Transform {
	return func(ctx context.Context, value any, c runtime.Context) (any, error) {
		return e.Eval(ctx, src, c, map[string]any{ValueKey: value})
	}
}

// Action merges the map a script evaluates to into the context. Scripts
// run for their effect may evaluate to nil.
func (e *Engine) Action(src string) runtime.Action {
	return func(ctx context.Context, c runtime.Context) (runtime.Context, error) {
		v, err := e.Eval(ctx, src, c, nil)
		if err != nil {
			return nil, err
		}
		return asPatch(src, v)
	}
}

// ErrorHandler recovers with the map the script evaluates to. A script
// that raises replaces the failure with its own error.
func (e *Engine) ErrorHandler(src string) runtime.ErrorHandler {
	return func(ctx context.Context, failure error, c runtime.Context) (runtime.Context, error) {
		v, err := e.Eval(ctx, src, c, map[string]any{ErrorKey: ErrorValue(failure)})
		if err != nil {
			return nil, err
		}
		return asPatch(src, v)
	}
}

// ErrorValue is the script view of err.
func ErrorValue(err error) map[string]any {
	var perr *runtime.ProcedureError
	if errors.As(err, &perr) {
		return perr.ToMap()
	}
	return map[string]any{"message": err.Error()}
}

func Condition(src string) runtime.Condition       { return defaultEngine.Condition(src) }
func Predicate(src string) runtime.Predicate       { return defaultEngine.Predicate(src) }
func Transform(src string) runtime.Transform       { return defaultEngine.Transform(src) }
func Action(src string) runtime.Action             { return defaultEngine.Action(src) }
func ErrorHandler(src string) runtime.ErrorHandler { return defaultEngine.ErrorHandler(src) }

func asBool(src string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("script %q evaluated to %T, expected boolean", src, v)
	}
	return b, nil
}

func asPatch(src string, v any) (runtime.Context, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return runtime.Context(p), nil
	}
	return nil, fmt.Errorf("script %q evaluated to %T, expected a map", src, v)
}
