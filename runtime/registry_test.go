package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/procflow/runtime"
)

type greetInput struct {
	Name string `json:"name" validate:"required"`
	Age  int    `json:"age" validate:"gte=0,lte=150"`
}

type greetOutput struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

type greeter struct {
	events []string
	failOn string
}

func (g *greeter) Greet(_ context.Context, in greetInput) (greetOutput, error) {
	return greetOutput{
		Message: fmt.Sprintf("Hello, %s! You are %d years old.", in.Name, in.Age),
		Success: true,
	}, nil
}

func (g *greeter) Lookup(_ context.Context, in *greetInput) (*greetOutput, error) {
	if in.Name == "nobody" {
		return nil, nil
	}
	return &greetOutput{Message: in.Name}, nil
}

func (g *greeter) FailTask(context.Context, greetInput) (greetOutput, error) {
	return greetOutput{}, errors.New("intentional failure")
}

func (g *greeter) Echo(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"echo": args["message"]}, nil
}

// Not a task: wrong signature.
func (g *greeter) Describe() string { return "greeter" }

func (g *greeter) Initialize(context.Context) error {
	g.events = append(g.events, "init")
	if g.failOn == "init" {
		return errors.New("no connection")
	}
	return nil
}

func (g *greeter) Shutdown(context.Context) error {
	g.events = append(g.events, "shutdown")
	if g.failOn == "shutdown" {
		return errors.New("still busy")
	}
	return nil
}

func TestRegisterPluginDiscoversTasks(t *testing.T) {
	r := runtime.NewRegistry()
	require.NoError(t, r.RegisterPlugin("greeter", &greeter{}))

	assert.Equal(t, []string{"greeter.echo", "greeter.failTask", "greeter.greet", "greeter.lookup"}, r.TaskNames())

	p, ok := r.Plugin("greeter")
	require.True(t, ok)
	assert.IsType(t, &greeter{}, p)
}

func TestRegisterPluginRejects(t *testing.T) {
	r := runtime.NewRegistry()
	assert.Error(t, r.RegisterPlugin("nil", nil))
	assert.Error(t, r.RegisterPlugin("", &greeter{}))

	require.NoError(t, r.RegisterPlugin("greeter", &greeter{}))
	assert.Error(t, r.RegisterPlugin("greeter", &greeter{}))
}

func TestTypedTask(t *testing.T) {
	r := runtime.NewRegistry()
	require.NoError(t, r.RegisterPlugin("greeter", &greeter{}))
	ctx := context.Background()

	t.Run("valid input", func(t *testing.T) {
		out, err := r.Call(ctx, "greeter.greet", map[string]any{"name": "Alice", "age": 30})
		require.NoError(t, err)
		assert.Equal(t, "Hello, Alice! You are 30 years old.", out["message"])
		assert.Equal(t, true, out["success"])
	})

	t.Run("weakly typed input", func(t *testing.T) {
		out, err := r.Call(ctx, "greeter.greet", map[string]any{"name": "Bob", "age": "41"})
		require.NoError(t, err)
		assert.Equal(t, "Hello, Bob! You are 41 years old.", out["message"])
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := r.Call(ctx, "greeter.greet", map[string]any{"age": 30})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid input")
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := r.Call(ctx, "greeter.greet", map[string]any{"name": "Old", "age": 200})
		assert.Error(t, err)
	})

	t.Run("pointer input and output", func(t *testing.T) {
		out, err := r.Call(ctx, "greeter.lookup", map[string]any{"name": "Carol"})
		require.NoError(t, err)
		assert.Equal(t, "Carol", out["message"])

		out, err = r.Call(ctx, "greeter.lookup", map[string]any{"name": "nobody"})
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("task error", func(t *testing.T) {
		_, err := r.Call(ctx, "greeter.failTask", map[string]any{"name": "x"})
		assert.EqualError(t, err, "intentional failure")
	})
}

func TestMapTask(t *testing.T) {
	r := runtime.NewRegistry()
	require.NoError(t, r.RegisterPlugin("greeter", &greeter{}))

	out, err := r.Call(context.Background(), "greeter.echo", map[string]any{"message": "Hello World"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "Hello World"}, out)
}

func TestCallUnknownTask(t *testing.T) {
	_, err := runtime.NewRegistry().Call(context.Background(), "missing.task", nil)
	assert.ErrorContains(t, err, `task "missing.task" is not registered`)
}

func TestSetTask(t *testing.T) {
	r := runtime.NewRegistry()
	r.SetTask("math.inc", func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"n": args["n"].(int) + 1}, nil
	})

	out, err := r.Call(context.Background(), "math.inc", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, 2, out["n"])
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("initialize and shutdown in order", func(t *testing.T) {
		first, second := &greeter{}, &greeter{}
		var order []string
		r := runtime.NewRegistry()
		require.NoError(t, r.RegisterPlugin("first", first))
		require.NoError(t, r.RegisterPlugin("second", second))

		require.NoError(t, r.Initialize(ctx))
		require.NoError(t, r.Shutdown(ctx))

		order = append(order, first.events...)
		order = append(order, second.events...)
		assert.Equal(t, []string{"init", "shutdown", "init", "shutdown"}, order)
	})

	t.Run("initialize stops at first failure", func(t *testing.T) {
		first, second := &greeter{failOn: "init"}, &greeter{}
		r := runtime.NewRegistry()
		require.NoError(t, r.RegisterPlugin("first", first))
		require.NoError(t, r.RegisterPlugin("second", second))

		err := r.Initialize(ctx)
		assert.ErrorContains(t, err, "plugin first initialization failed: no connection")
		assert.Empty(t, second.events)
	})

	t.Run("shutdown reaches every plugin", func(t *testing.T) {
		first, second := &greeter{}, &greeter{failOn: "shutdown"}
		r := runtime.NewRegistry()
		require.NoError(t, r.RegisterPlugin("first", first))
		require.NoError(t, r.RegisterPlugin("second", second))

		err := r.Shutdown(ctx)
		assert.ErrorContains(t, err, "plugin second shutdown failed")
		assert.Equal(t, []string{"shutdown"}, first.events)
	})
}

func TestRegisterProcedure(t *testing.T) {
	r := runtime.NewRegistry()
	require.NoError(t, r.RegisterProcedure(runtime.New("b", nil)))
	require.NoError(t, r.RegisterProcedure(runtime.New("a", nil)))

	assert.Error(t, r.RegisterProcedure(runtime.New("a", nil)))
	assert.Error(t, r.RegisterProcedure(nil))
	assert.Equal(t, []string{"a", "b"}, r.ProcedureNames())

	p, ok := r.Procedure("a")
	require.True(t, ok)
	assert.Equal(t, "a", p.Name())
}
