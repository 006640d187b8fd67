package dsl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BDNK1/procflow/runtime"
)

// taskGlobals groups the registry's tasks by plugin so that a task named
// "http.get" is called from a script as http.get({url: "..."}).
func taskGlobals(ctx context.Context, registry *runtime.Registry) map[string]any {
	if registry == nil {
		return nil
	}

	grouped := make(map[string]any)
	for _, name := range registry.TaskNames() {
		plugin, method, ok := strings.Cut(name, ".")
		if !ok {
			continue
		}
		module, _ := grouped[plugin].(map[string]any)
		if module == nil {
			module = make(map[string]any)
			grouped[plugin] = module
		}

		task, _ := registry.Task(name)
		module[method] = func(args map[string]any) (map[string]any, error) {
			return task(ctx, args)
		}
	}
	return grouped
}

// builtinGlobals are available to every script.
func builtinGlobals() map[string]any {
	return map[string]any{
		"sprintf": fmt.Sprintf,
		"raise": func(args ...any) (any, error) {
			return nil, raiseError(args...)
		},
	}
}

// raiseError builds the error of raise(message) or raise(message, detail...).
func raiseError(args ...any) error {
	if len(args) == 0 {
		return errors.New("raise() called with no arguments")
	}
	msg := fmt.Sprint(args[0])
	if len(args) > 1 {
		msg = fmt.Sprintf(msg, args[1:]...)
	}
	return errors.New(msg)
}
