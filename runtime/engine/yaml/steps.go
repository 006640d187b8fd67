package yaml

import (
	"context"
	"fmt"

	goyaml "gopkg.in/yaml.v3"

	"github.com/BDNK1/procflow/runtime"
	"github.com/BDNK1/procflow/runtime/diagnostic"
)

const onErrorKey = "on_error"

var stepKinds = []runtime.Kind{
	runtime.KindValidate,
	runtime.KindUpdate,
	runtime.KindLoad,
	runtime.KindDo,
	runtime.KindMatch,
}

// step builds the operation declared by one entry of steps.
func (l *Loader) step(file, procedure string, node *goyaml.Node) (runtime.Operation, error) {
	fs, err := fields(node)
	if err != nil {
		return nil, err
	}

	var kind runtime.Kind
	var decl field
	for _, f := range fs {
		if f.key.Value == onErrorKey {
			continue
		}
		k, ok := stepKind(f.key.Value)
		if !ok {
			return nil, errorAt(f.key, "unknown step %q", f.key.Value)
		}
		if kind != "" {
			return nil, errorAt(f.key, "step declares both %s and %s", kind, k)
		}
		kind, decl = k, f
	}
	if kind == "" {
		return nil, errorAt(node, "step declares no operation")
	}

	g := runtime.Guard{Source: runtime.SourceAnchor{
		File:     file,
		Line:     decl.key.Line,
		Column:   decl.key.Column,
		Function: procedure,
		Method:   string(kind),
	}}
	if f, ok := lookup(fs, onErrorKey); ok {
		if g.OnError, err = l.errorHandler(f.value); err != nil {
			return nil, err
		}
	}

	switch kind {
	case runtime.KindValidate:
		return l.validate(g, decl.value)
	case runtime.KindUpdate:
		return l.update(g, decl.value)
	case runtime.KindLoad:
		fn, name, err := l.action(decl.value)
		if err != nil {
			return nil, err
		}
		return &runtime.LoadOp{Guard: g, Fetch: runtime.Fetch(fn.action()), FetchName: name}, nil
	case runtime.KindDo:
		fn, name, err := l.action(decl.value)
		if err != nil {
			return nil, err
		}
		return &runtime.DoOp{Guard: g, Action: fn.action(), ActionName: name}, nil
	default:
		return l.match(g, procedure, decl.value)
	}
}

func stepKind(key string) (runtime.Kind, bool) {
	for _, k := range stepKinds {
		if string(k) == key {
			return k, true
		}
	}
	return "", false
}

// validate declares {key, expr|script, name}. The expression sees the
// checked value as "value".
func (l *Loader) validate(g runtime.Guard, node *goyaml.Node) (runtime.Operation, error) {
	fs, err := fields(node)
	if err != nil {
		return nil, err
	}
	if err := only(fs, "key", "expr", "script", "name"); err != nil {
		return nil, err
	}
	key, err := requiredScalar(node, fs, "key")
	if err != nil {
		return nil, err
	}
	eval, err := l.evaluation(node, fs)
	if err != nil {
		return nil, err
	}

	predicate := func(ctx context.Context, value any) (bool, error) {
		v, err := eval(ctx, nil, map[string]any{"value": value})
		if err != nil {
			return false, err
		}
		ok, isBool := v.(bool)
		if !isBool {
			return false, fmt.Errorf("validation of %s evaluated to %T, expected boolean", key, v)
		}
		return ok, nil
	}
	return &runtime.ValidateOp{Guard: g, Key: key, Predicate: predicate, PredicateName: optionalName(fs)}, nil
}

// update declares {key, expr|script, name}. The expression sees the
// context and the current value as "value".
func (l *Loader) update(g runtime.Guard, node *goyaml.Node) (runtime.Operation, error) {
	fs, err := fields(node)
	if err != nil {
		return nil, err
	}
	if err := only(fs, "key", "expr", "script", "name"); err != nil {
		return nil, err
	}
	key, err := requiredScalar(node, fs, "key")
	if err != nil {
		return nil, err
	}
	eval, err := l.evaluation(node, fs)
	if err != nil {
		return nil, err
	}

	transform := func(ctx context.Context, value any, c runtime.Context) (any, error) {
		return eval(ctx, c, map[string]any{"value": value})
	}
	return &runtime.UpdateOp{Guard: g, Key: key, Transform: transform, TransformName: optionalName(fs)}, nil
}

// match declares {cases: [{when, then}], otherwise}. when is one
// condition or a list of them; each is an expression or {name, expr|script}.
func (l *Loader) match(g runtime.Guard, procedure string, node *goyaml.Node) (runtime.Operation, error) {
	fs, err := fields(node)
	if err != nil {
		return nil, err
	}
	if err := only(fs, "cases", "otherwise"); err != nil {
		return nil, err
	}

	op := &runtime.MatchOp{Guard: g, Procedure: procedure}
	if f, ok := lookup(fs, "cases"); ok {
		if f.value.Kind != goyaml.SequenceNode {
			return nil, errorAt(f.value, "cases must be a sequence, got %s", kindName(f.value))
		}
		for _, c := range f.value.Content {
			mc, err := l.matchCase(c)
			if err != nil {
				return nil, err
			}
			op.Cases = append(op.Cases, mc)
		}
	}

	if f, ok := lookup(fs, "otherwise"); ok {
		fn, name, err := l.action(f.value)
		if err != nil {
			return nil, err
		}
		op.Fallback = fn.action()
		op.FallbackRef = runtime.ClauseRef{Name: name, Position: actionSpan(f.value)}
	}
	return op, nil
}

func (l *Loader) matchCase(node *goyaml.Node) (runtime.MatchCase, error) {
	var mc runtime.MatchCase
	fs, err := fields(node)
	if err != nil {
		return mc, err
	}
	if err := only(fs, "when", "then"); err != nil {
		return mc, err
	}

	if f, ok := lookup(fs, "when"); ok {
		conditions := []*goyaml.Node{f.value}
		if f.value.Kind == goyaml.SequenceNode {
			conditions = f.value.Content
		}
		for _, cn := range conditions {
			cond, ref, err := l.condition(cn)
			if err != nil {
				return mc, err
			}
			mc.When = append(mc.When, cond)
			mc.Clauses = append(mc.Clauses, ref)
		}
	}

	then, ok := lookup(fs, "then")
	if !ok {
		return mc, errorAt(node, "case has no then")
	}
	fn, name, err := l.action(then.value)
	if err != nil {
		return mc, err
	}
	mc.Then = fn.action()
	mc.Clauses = append(mc.Clauses, runtime.ClauseRef{Name: name, Position: actionSpan(then.value)})
	return mc, nil
}

func (l *Loader) condition(node *goyaml.Node) (runtime.Condition, runtime.ClauseRef, error) {
	var eval evaluation
	var name string
	var err error
	pos := span(node)

	switch node.Kind {
	case goyaml.ScalarNode:
		eval, err = l.expression(node)
	case goyaml.MappingNode:
		var fs []field
		if fs, err = fields(node); err != nil {
			break
		}
		if err = only(fs, "name", "expr", "script"); err != nil {
			break
		}
		name = optionalName(fs)
		eval, err = l.evaluation(node, fs)
		if f, ok := lookup(fs, "expr"); ok {
			pos = span(f.value)
		} else if f, ok := lookup(fs, "script"); ok {
			pos = span(f.value)
		}
	default:
		err = errorAt(node, "condition must be an expression or a mapping, got %s", kindName(node))
	}
	if err != nil {
		return nil, runtime.ClauseRef{}, err
	}

	cond := func(ctx context.Context, c runtime.Context) (bool, error) {
		v, err := eval(ctx, c, nil)
		if err != nil {
			return false, err
		}
		ok, isBool := v.(bool)
		if !isBool {
			return false, fmt.Errorf("condition evaluated to %T, expected boolean", v)
		}
		return ok, nil
	}
	return cond, runtime.ClauseRef{Name: name, Position: pos}, nil
}

// actionSpan underlines the first key of a mapping action.
func actionSpan(node *goyaml.Node) *diagnostic.Position {
	if node.Kind == goyaml.MappingNode && len(node.Content) > 0 {
		return span(node.Content[0])
	}
	return span(node)
}

func requiredScalar(node *goyaml.Node, fs []field, key string) (string, error) {
	f, ok := lookup(fs, key)
	if !ok {
		return "", errorAt(node, "missing %s", key)
	}
	v, err := scalar(f.value, key)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", errorAt(f.value, "%s cannot be empty", key)
	}
	return v, nil
}

func optionalName(fs []field) string {
	if f, ok := lookup(fs, "name"); ok && f.value.Kind == goyaml.ScalarNode {
		return f.value.Value
	}
	return ""
}
