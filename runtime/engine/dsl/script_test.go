package dsl_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/procflow/runtime"
	"github.com/BDNK1/procflow/runtime/engine/dsl"
)

func quietExecutor() *runtime.Executor {
	return runtime.NewExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestScriptSteps(t *testing.T) {
	p := runtime.New("scripted", nil, runtime.WithExecutor(quietExecutor())).
		Validate("n", dsl.Predicate(`value > 0`)).
		Update("n", dsl.Transform(`value * factor`)).
		Match([]runtime.Statement{
			{dsl.Condition(`n > 100`), dsl.Action(`{"size": "large"}`)},
		}, dsl.Action(`{"size": sprintf("small:%d", n)}`))

	out, err := p.Exec(context.Background(), map[string]any{"n": 5, "factor": 3})
	require.NoError(t, err)
	assert.Equal(t, int64(15), out["n"])
	assert.Equal(t, "small:15", out["size"])

	_, err = p.Exec(context.Background(), map[string]any{"n": 0, "factor": 3})
	assert.True(t, runtime.IsCode(err, runtime.CodeValidationFailed))
}

func TestScriptConditionMustBeBoolean(t *testing.T) {
	_, err := dsl.Condition(`1 + 1`)(context.Background(), nil)
	assert.ErrorContains(t, err, "expected boolean")
}

func TestScriptActionMustBeMap(t *testing.T) {
	patch, err := dsl.Action(`nil`)(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, patch)

	_, err = dsl.Action(`"text"`)(context.Background(), nil)
	assert.ErrorContains(t, err, "expected a map")
}

func TestScriptRaise(t *testing.T) {
	_, err := dsl.Action(`raise("limit %d exceeded", limit)`)(context.Background(), runtime.Context{"limit": 3})
	assert.ErrorContains(t, err, "limit 3 exceeded")
}

func TestScriptErrorHandler(t *testing.T) {
	p := runtime.New("handled", nil, runtime.WithExecutor(quietExecutor())).
		Do(func(runtime.Context) error { return errors.New("backend down") }).
		Or(dsl.ErrorHandler(`{"fallback": true, "reason": error.message}`))

	out, err := p.Exec(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["fallback"])
	assert.Equal(t, "backend down", out["reason"])
}

func TestScriptErrorHandlerRaiseReplacesFailure(t *testing.T) {
	p := runtime.New("handled", nil, runtime.WithExecutor(quietExecutor())).
		Do(func(runtime.Context) error { return errors.New("backend down") }).
		Or(dsl.ErrorHandler(`raise("escalated: " + error.message)`))

	_, err := p.Exec(context.Background(), nil)
	var perr *runtime.ProcedureError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, runtime.CodeRuntimeError, perr.Code)
	assert.Contains(t, perr.Summary, "escalated: backend down")
}

type counterPlugin struct{ calls int }

func (c *counterPlugin) Next(_ context.Context, args map[string]any) (map[string]any, error) {
	c.calls++
	return map[string]any{"value": c.calls, "label": args["label"]}, nil
}

func TestScriptCallsRegistryTasks(t *testing.T) {
	registry := runtime.NewRegistry()
	plugin := &counterPlugin{}
	require.NoError(t, registry.RegisterPlugin("counter", plugin))

	engine := dsl.NewEngine(registry)
	patch, err := engine.Action(`
first := counter.next({"label": "a"})
second := counter.next({"label": "b"}).value
{"first": first, "second": second}
`)(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, plugin.calls)
	assert.Equal(t, map[string]any{"value": int64(1), "label": "a"}, patch["first"])
	assert.Equal(t, int64(2), patch["second"])
}

func TestEngineCheck(t *testing.T) {
	engine := dsl.NewEngine(nil)
	assert.NoError(t, engine.Check(`{"a": 1}`))
	assert.Error(t, engine.Check(`{"a": `))
}
