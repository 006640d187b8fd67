package dsl

import (
	"context"
	"fmt"
	"reflect"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"

	"github.com/BDNK1/procflow/runtime"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Interpreter evaluates Risor scripts in a sandbox. Scripts see only the
// globals they are given; os, exec and file builtins are never available.
type Interpreter struct{}

// Check parses src without running it.
func (i *Interpreter) Check(ctx context.Context, src string) error {
	_, err := parser.Parse(ctx, src)
	return err
}

// Eval runs src with globals and returns its last value as plain Go data.
func (i *Interpreter) Eval(ctx context.Context, src string, globals map[string]any) (any, error) {
	converted := make(map[string]any, len(globals))
	for k, v := range globals {
		converted[k] = toRisor(k, v)
	}

	result, err := risor.Eval(ctx, src,
		risor.WithoutDefaultGlobals(),
		risor.WithGlobals(converted),
	)
	if err != nil {
		return nil, err
	}
	return fromRisor(result), nil
}

// toRisor prepares a Go value for the VM. Functions become builtins and
// maps holding functions become modules, so "http.get({...})" resolves to a
// module attribute call.
func toRisor(name string, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case object.Object:
		return val
	case runtime.Context:
		return toRisor(name, map[string]any(val))
	case map[string]any:
		for _, item := range val {
			if isFunc(item) {
				return newModule(name, val)
			}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toRisor(k, item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toRisor(name, item)
		}
		return out
	}
	if isFunc(v) {
		return newBuiltin(name, v)
	}
	return v
}

func isFunc(v any) bool {
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
}

func newModule(name string, m map[string]any) *object.Module {
	contents := make(map[string]object.Object, len(m))
	for k, v := range m {
		if isFunc(v) {
			contents[k] = newBuiltin(name+"."+k, v)
			continue
		}
		contents[k] = toObject(v)
	}
	return object.NewBuiltinsModule(name, contents)
}

// newBuiltin wraps fn as a Risor builtin. Arguments are converted to the
// parameter types of fn where possible; a non-nil trailing error return
// is raised inside the script.
func newBuiltin(name string, fn any) *object.Builtin {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()

	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		if !ft.IsVariadic() && len(args) != ft.NumIn() {
			return object.NewError(fmt.Errorf("%s: expected %d arguments, got %d", name, ft.NumIn(), len(args)))
		}
		if ft.IsVariadic() && len(args) < ft.NumIn()-1 {
			return object.NewError(fmt.Errorf("%s: expected at least %d arguments, got %d", name, ft.NumIn()-1, len(args)))
		}

		in := make([]reflect.Value, len(args))
		for i, arg := range args {
			v, err := convertArg(fromRisor(arg), paramType(ft, i))
			if err != nil {
				return object.NewError(fmt.Errorf("%s: argument %d: %w", name, i+1, err))
			}
			in[i] = v
		}
		out := fv.Call(in)

		if n := len(out); n > 0 && ft.Out(n-1) == errorType {
			if err, _ := out[n-1].Interface().(error); err != nil {
				return object.NewError(err)
			}
			out = out[:n-1]
		}
		if len(out) == 0 {
			return object.Nil
		}
		return toObject(out[0].Interface())
	})
}

func paramType(ft reflect.Type, i int) reflect.Type {
	if ft.IsVariadic() && i >= ft.NumIn()-1 {
		return ft.In(ft.NumIn() - 1).Elem()
	}
	return ft.In(i)
}

func convertArg(v any, want reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(want), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(want):
		return rv, nil
	case want.Kind() == reflect.String && rv.Kind() != reflect.String:
		// int to string conversion yields a rune, never what a script means
	case rv.Type().ConvertibleTo(want):
		return rv.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, want)
}

func toObject(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	if c, ok := v.(runtime.Context); ok {
		v = map[string]any(c)
	}
	if obj := object.FromGoType(v); obj != nil {
		return obj
	}
	return object.Nil
}

// fromRisor converts a VM value back to Go: maps become map[string]any,
// lists []any and nil nil. Scalars keep Risor's Go types (int64, float64,
// string, bool).
func fromRisor(obj object.Object) any {
	switch o := obj.(type) {
	case nil, *object.NilType:
		return nil
	case *object.Map:
		out := make(map[string]any, len(o.Value()))
		for k, v := range o.Value() {
			out[k] = fromRisor(v)
		}
		return out
	case *object.List:
		items := o.Value()
		out := make([]any, len(items))
		for i, v := range items {
			out[i] = fromRisor(v)
		}
		return out
	}
	return obj.Interface()
}
