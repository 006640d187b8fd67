package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
)

// App bundles a registry of tasks and procedures with the executor that
// runs them.
type App struct {
	Registry *Registry
	Executor *Executor
}

// NewApp loads every procedure file in dir that loader understands and
// registers it in registry.
func NewApp(dir string, registry *Registry, executor *Executor, loader ProcedureLoader) (*App, error) {
	app := &App{Registry: registry, Executor: executor}
	if app.Registry == nil {
		app.Registry = NewRegistry()
	}
	if app.Executor == nil {
		app.Executor = NewExecutor(nil)
	}
	if loader == nil || dir == "" {
		return app, nil
	}

	files, err := procedureFiles(dir, loader.Extensions())
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		p, err := loader.Load(file)
		if err != nil {
			return nil, fmt.Errorf("error loading procedure %s: %w", file, err)
		}
		if err := app.Registry.RegisterProcedure(p); err != nil {
			return nil, fmt.Errorf("error registering procedure from %s: %w", file, err)
		}
	}
	return app, nil
}

func procedureFiles(dir string, extensions []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !slices.Contains(extensions, filepath.Ext(entry.Name())) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Run executes the procedure registered under name with overrides applied
// over its defaults.
func (a *App) Run(ctx context.Context, name string, overrides map[string]any) (Context, error) {
	p, ok := a.Registry.Procedure(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcedure, name)
	}
	return p.Exec(ContextWithExecutor(ctx, a.Executor), overrides)
}

// ContextWithExecutor returns a context whose procedures run on e unless
// they were built with their own executor.
func ContextWithExecutor(ctx context.Context, e *Executor) context.Context {
	return context.WithValue(ctx, executorKey{}, e)
}
