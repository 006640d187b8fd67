package yaml

import (
	"encoding/base64"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/BDNK1/procflow/runtime"
)

// Custom expression functions available in all procedures
var exprFunctions = []expr.Option{
	expr.Function("base64_encode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	}),
	expr.Function("base64_decode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}),
}

// ExpressionEvaluator evaluates expr-lang expressions against a run's
// context. Nested maps are reached with dot access, missing variables
// evaluate to nil.
type ExpressionEvaluator struct{}

func NewExpressionEvaluator() *ExpressionEvaluator {
	return &ExpressionEvaluator{}
}

// Check compiles expression without an environment to report syntax errors
// at load time.
func (e *ExpressionEvaluator) Check(expression string) error {
	opts := append([]expr.Option{expr.AllowUndefinedVariables(), definedFunction(nil)}, exprFunctions...)
	_, err := expr.Compile(expression, opts...)
	return err
}

// Eval evaluates expression with c as its variables; extra variables shadow
// context keys. c is never modified.
func (e *ExpressionEvaluator) Eval(expression string, c runtime.Context, extra map[string]any) (any, error) {
	env := make(map[string]any, len(c)+len(extra)+1)
	for k, v := range c {
		env[k] = v
	}
	for k, v := range extra {
		env[k] = v
	}
	// null is an alias of nil for JSON and YAML minded authors
	env["null"] = nil

	// NOTE: expr.Env MUST come before AllowUndefinedVariables for it to work
	opts := []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		definedFunction(runtime.Context(env)),
	}
	opts = append(opts, exprFunctions...)

	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// definedFunction reports whether a dotted path exists in env, which tells
// a missing key from one holding nil.
func definedFunction(env runtime.Context) expr.Option {
	return expr.Function(
		"defined",
		func(params ...any) (any, error) {
			path, ok := params[0].(string)
			if !ok {
				return false, fmt.Errorf("defined() expects string path argument, got %T", params[0])
			}
			_, exists := env.Lookup(path)
			return exists, nil
		},
		new(func(string) bool),
	)
}
