package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/BDNK1/procflow/cli/internal/config"
	"github.com/BDNK1/procflow/plugins/http"
	"github.com/BDNK1/procflow/runtime"
	"github.com/BDNK1/procflow/runtime/engine/yaml"
)

// pluginFactories are the plugins compiled into the binary, built from
// their section of procflow.yaml.
var pluginFactories = map[string]func(raw map[string]any) (any, error){
	"http": func(raw map[string]any) (any, error) { return http.New(raw) },
}

// environment is what a command needs to run procedures: the project
// config, an initialized registry and the procedures of the project.
type environment struct {
	project *config.Project
	app     *runtime.App
	loader  *yaml.Loader
}

// newEnvironment loads the project and the procedures in dir. An empty dir
// means the project's procedures directory, which may be missing.
func newEnvironment(ctx context.Context, opts *options, logs io.Writer, dir string) (*environment, error) {
	project, err := config.Load(opts.project, config.EnvLookup)
	if err != nil {
		return nil, err
	}

	registry := runtime.NewRegistry()
	if err := registerPlugins(registry, project.Plugins); err != nil {
		return nil, err
	}
	executor := runtime.NewExecutorFromConfig(project.Runtime, logs)
	loader := yaml.NewLoader(registry, runtime.WithExecutor(executor))

	if dir == "" {
		if dir, err = project.Path(project.Procedures); err != nil {
			return nil, err
		}
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			dir = ""
		}
	}
	app, err := runtime.NewApp(dir, registry, executor, loader)
	if err != nil {
		return nil, err
	}

	if err := registry.Initialize(ctx); err != nil {
		return nil, err
	}
	return &environment{project: project, app: app, loader: loader}, nil
}

func (e *environment) close(ctx context.Context) error {
	return e.app.Registry.Shutdown(ctx)
}

func registerPlugins(registry *runtime.Registry, configs map[string]map[string]any) error {
	for name := range configs {
		if _, ok := pluginFactories[name]; !ok {
			return fmt.Errorf("unknown plugin %q in %s", name, config.FileName)
		}
	}

	names := make([]string, 0, len(pluginFactories))
	for name := range pluginFactories {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		plugin, err := pluginFactories[name](configs[name])
		if err != nil {
			return err
		}
		if err := registry.RegisterPlugin(name, plugin); err != nil {
			return err
		}
	}
	return nil
}
