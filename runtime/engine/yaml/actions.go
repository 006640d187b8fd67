package yaml

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goyaml "gopkg.in/yaml.v3"

	"github.com/BDNK1/procflow/runtime"
	"github.com/BDNK1/procflow/runtime/engine/dsl"
)

// evaluation computes a value from the context plus extra variables.
type evaluation func(ctx context.Context, c runtime.Context, extra map[string]any) (any, error)

// actionFunc is an action that also sees extra variables; error handlers
// use it with the failure bound to "error".
type actionFunc func(ctx context.Context, c runtime.Context, extra map[string]any) (runtime.Context, error)

func (fn actionFunc) action() runtime.Action {
	return func(ctx context.Context, c runtime.Context) (runtime.Context, error) {
		return fn(ctx, c, nil)
	}
}

var actionForms = []string{"expr", "script", "call", "procedure", "set", "raise"}

func (l *Loader) expression(node *goyaml.Node) (evaluation, error) {
	src, err := scalar(node, "expression")
	if err != nil {
		return nil, err
	}
	if err := l.evaluator.Check(src); err != nil {
		return nil, errorAt(node, "invalid expression: %v", err)
	}
	return func(_ context.Context, c runtime.Context, extra map[string]any) (any, error) {
		return l.evaluator.Eval(src, c, extra)
	}, nil
}

func (l *Loader) script(node *goyaml.Node) (evaluation, error) {
	src, err := scalar(node, "script")
	if err != nil {
		return nil, err
	}
	if err := l.scripts.Check(src); err != nil {
		return nil, errorAt(node, "invalid script: %v", err)
	}
	return func(ctx context.Context, c runtime.Context, extra map[string]any) (any, error) {
		return l.scripts.Eval(ctx, src, c, extra)
	}, nil
}

// evaluation reads exactly one of expr and script from fs.
func (l *Loader) evaluation(node *goyaml.Node, fs []field) (evaluation, error) {
	e, hasExpr := lookup(fs, "expr")
	s, hasScript := lookup(fs, "script")
	switch {
	case hasExpr && hasScript:
		return nil, errorAt(s.key, "expr and script are exclusive")
	case hasExpr:
		return l.expression(e.value)
	case hasScript:
		return l.script(s.value)
	}
	return nil, errorAt(node, "missing expr or script")
}

// action builds one of the action forms:
//
//	{expr: ..., into: path}      patch from an expression
//	{script: ..., into: path}    patch from a Risor script
//	{call: task, with: {...}, into: path}
//	{procedure: name}            runs a registered procedure in place
//	{set: {path: expr, ...}}
//	{raise: expr}                fails with the expression's value
//
// Every form takes an optional name used in diagnostics.
func (l *Loader) action(node *goyaml.Node) (actionFunc, string, error) {
	fs, err := fields(node)
	if err != nil {
		return nil, "", err
	}
	if err := only(fs, append(actionForms, "name", "with", "into")...); err != nil {
		return nil, "", err
	}

	var form field
	for _, f := range fs {
		if !isActionForm(f.key.Value) {
			continue
		}
		if form.key != nil {
			return nil, "", errorAt(f.key, "action declares both %s and %s", form.key.Value, f.key.Value)
		}
		form = f
	}
	if form.key == nil {
		return nil, "", errorAt(node, "action needs one of %s", strings.Join(actionForms, ", "))
	}

	name := optionalName(fs)
	with, hasWith := lookup(fs, "with")
	if hasWith && form.key.Value != "call" {
		return nil, "", errorAt(with.key, "with is only allowed with call")
	}
	var into string
	if f, ok := lookup(fs, "into"); ok {
		if into, err = scalar(f.value, "into"); err != nil {
			return nil, "", err
		}
		switch form.key.Value {
		case "expr", "script", "call":
		default:
			return nil, "", errorAt(f.key, "into is not allowed with %s", form.key.Value)
		}
	}

	var fn actionFunc
	switch form.key.Value {
	case "expr", "script":
		fn, err = l.evaluatedAction(form, into)
	case "call":
		var task string
		fn, task, err = l.callAction(form.value, with.value, into)
		if name == "" {
			name = identifier(task)
		}
	case "procedure":
		var ref string
		fn, ref, err = l.procedureAction(form.value)
		if name == "" {
			name = identifier(ref)
		}
	case "set":
		fn, err = l.setAction(form.value)
	case "raise":
		fn, err = l.raiseAction(form.value)
	}
	if err != nil {
		return nil, "", err
	}
	return fn, name, nil
}

func isActionForm(key string) bool {
	for _, f := range actionForms {
		if f == key {
			return true
		}
	}
	return false
}

// identifier turns a dotted reference into a name that survives short name
// trimming, "http.get" becoming "http_get".
func identifier(ref string) string {
	return strings.NewReplacer(".", "_", "/", "_").Replace(ref)
}

func (l *Loader) evaluatedAction(form field, into string) (actionFunc, error) {
	eval, err := l.evaluation(form.value, []field{form})
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, c runtime.Context, extra map[string]any) (runtime.Context, error) {
		v, err := eval(ctx, c, extra)
		if err != nil {
			return nil, err
		}
		return store(c, into, v)
	}, nil
}

func (l *Loader) callAction(taskNode, withNode *goyaml.Node, into string) (actionFunc, string, error) {
	task, err := scalar(taskNode, "call")
	if err != nil {
		return nil, "", err
	}
	args := map[string]any{}
	if withNode != nil {
		if args, err = decodeMap(withNode, "with"); err != nil {
			return nil, "", err
		}
		if err := l.checkValue(withNode, args); err != nil {
			return nil, "", err
		}
	}

	fn := func(ctx context.Context, c runtime.Context, extra map[string]any) (runtime.Context, error) {
		evaluated, err := l.evaluateValue(c, extra, "with", args)
		if err != nil {
			return nil, err
		}
		out, err := l.registry.Call(ctx, task, evaluated.(map[string]any))
		if err != nil {
			return nil, err
		}
		return store(c, into, out)
	}
	return fn, task, nil
}

func (l *Loader) procedureAction(node *goyaml.Node) (actionFunc, string, error) {
	name, err := scalar(node, "procedure")
	if err != nil {
		return nil, "", err
	}
	return func(ctx context.Context, c runtime.Context, _ map[string]any) (runtime.Context, error) {
		p, ok := l.registry.Procedure(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", runtime.ErrUnknownProcedure, name)
		}
		return nil, p.Run(ctx, c)
	}, name, nil
}

func (l *Loader) setAction(node *goyaml.Node) (actionFunc, error) {
	fs, err := fields(node)
	if err != nil {
		return nil, err
	}
	type assignment struct {
		path string
		eval evaluation
	}
	assignments := make([]assignment, 0, len(fs))
	for _, f := range fs {
		eval, err := l.expression(f.value)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, assignment{path: f.key.Value, eval: eval})
	}

	return func(ctx context.Context, c runtime.Context, extra map[string]any) (runtime.Context, error) {
		for _, a := range assignments {
			v, err := a.eval(ctx, c, extra)
			if err != nil {
				return nil, fmt.Errorf("set %s: %w", a.path, err)
			}
			c.SetPath(a.path, v)
		}
		return nil, nil
	}, nil
}

func (l *Loader) raiseAction(node *goyaml.Node) (actionFunc, error) {
	eval, err := l.expression(node)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, c runtime.Context, extra map[string]any) (runtime.Context, error) {
		v, err := eval(ctx, c, extra)
		if err != nil {
			return nil, err
		}
		return nil, errors.New(fmt.Sprint(v))
	}, nil
}

// errorHandler declares on_error: either "ignore", {patch: {...}} with
// literal values, or any action form. Actions see the failure as "error".
func (l *Loader) errorHandler(node *goyaml.Node) (runtime.ErrorHandler, error) {
	if node.Kind == goyaml.ScalarNode {
		if node.Value != "ignore" {
			return nil, errorAt(node, "on_error must be ignore or a mapping, got %q", node.Value)
		}
		return func(context.Context, error, runtime.Context) (runtime.Context, error) {
			return nil, nil
		}, nil
	}

	fs, err := fields(node)
	if err != nil {
		return nil, err
	}
	if f, ok := lookup(fs, "patch"); ok {
		if len(fs) > 1 {
			return nil, errorAt(node, "patch cannot be combined with other keys")
		}
		patch, err := decodeMap(f.value, "patch")
		if err != nil {
			return nil, err
		}
		return func(context.Context, error, runtime.Context) (runtime.Context, error) {
			return runtime.Context(patch).Clone(), nil
		}, nil
	}

	fn, _, err := l.action(node)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, failure error, c runtime.Context) (runtime.Context, error) {
		return fn(ctx, c, map[string]any{dsl.ErrorKey: dsl.ErrorValue(failure)})
	}, nil
}

// store writes v under into, or returns it as a patch when into is empty.
func store(c runtime.Context, into string, v any) (runtime.Context, error) {
	if into != "" {
		c.SetPath(into, v)
		return nil, nil
	}
	switch p := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return runtime.Context(p), nil
	case runtime.Context:
		return p, nil
	}
	return nil, fmt.Errorf("action evaluated to %T, expected a map; use into to store it", v)
}

// checkValue compiles every string of a with block at load time.
func (l *Loader) checkValue(node *goyaml.Node, v any) error {
	switch val := v.(type) {
	case string:
		if err := l.evaluator.Check(val); err != nil {
			return errorAt(node, "invalid expression %q: %v", val, err)
		}
	case map[string]any:
		for _, item := range val {
			if err := l.checkValue(node, item); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range val {
			if err := l.checkValue(node, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// evaluateValue recursively evaluates expressions in nested structures.
// Strings are always expressions; use '"literal"' for string literals.
func (l *Loader) evaluateValue(c runtime.Context, extra map[string]any, path string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		result, err := l.evaluator.Eval(v, c, extra)
		if err != nil {
			return nil, fmt.Errorf("error evaluating expression '%s' at %s: %w", v, path, err)
		}
		return result, nil
	case map[string]any:
		evaluated := make(map[string]any, len(v))
		for key, val := range v {
			result, err := l.evaluateValue(c, extra, path+"."+key, val)
			if err != nil {
				return nil, err
			}
			evaluated[key] = result
		}
		return evaluated, nil
	case []any:
		evaluated := make([]any, len(v))
		for i, val := range v {
			result, err := l.evaluateValue(c, extra, fmt.Sprintf("%s[%d]", path, i), val)
			if err != nil {
				return nil, err
			}
			evaluated[i] = result
		}
		return evaluated, nil
	default:
		return value, nil
	}
}
