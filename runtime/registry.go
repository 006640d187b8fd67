package runtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Task is a unit of work provided by a plugin. Declarations reach tasks by
// their registered name, "plugin.method".
type Task func(ctx context.Context, args map[string]any) (map[string]any, error)

// Lifecycle is implemented by plugins holding resources. Initialize runs
// once before the first procedure, Shutdown in reverse registration order.
type Lifecycle interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	argsType    = reflect.TypeOf(map[string]any(nil))
)

type lifecyclePlugin struct {
	name   string
	plugin Lifecycle
}

// Registry holds the tasks, plugins and named procedures of an application.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	tasks      map[string]Task
	plugins    map[string]any
	lifecycle  []lifecyclePlugin
	procedures map[string]*Procedure
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:      make(map[string]Task),
		plugins:    make(map[string]any),
		procedures: make(map[string]*Procedure),
	}
}

func (r *Registry) Task(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

func (r *Registry) SetTask(name string, task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = task
}

// TaskNames returns the registered task names, sorted.
func (r *Registry) TaskNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.tasks)
}

// Call runs the task registered under name.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	t, ok := r.Task(name)
	if !ok {
		return nil, fmt.Errorf("task %q is not registered", name)
	}
	return t(ctx, args)
}

// RegisterPlugin stores plugin under name and registers a task for every
// exported method with one of the signatures
//
//	func(ctx context.Context, args map[string]any) (map[string]any, error)
//	func(ctx context.Context, in In) (Out, error)
//
// where In is a struct (or pointer to one) decoded from the task arguments
// and validated with its validate tags, and Out is a struct, a pointer to a
// struct or a map. Methods with other signatures are ignored.
func (r *Registry) RegisterPlugin(name string, plugin any) error {
	if plugin == nil {
		return fmt.Errorf("plugin %s cannot be nil", name)
	}
	if name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %s is already registered", name)
	}
	r.plugins[name] = plugin
	if l, ok := plugin.(Lifecycle); ok {
		r.lifecycle = append(r.lifecycle, lifecyclePlugin{name: name, plugin: l})
	}

	pt := reflect.TypeOf(plugin)
	pv := reflect.ValueOf(plugin)
	for i := 0; i < pt.NumMethod(); i++ {
		method := pt.Method(i)
		if !method.IsExported() {
			continue
		}
		task, ok := taskFromMethod(pv, method)
		if !ok {
			continue
		}
		r.tasks[name+"."+toLowerFirst(method.Name)] = task
	}
	return nil
}

func (r *Registry) Plugin(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Initialize initializes lifecycle plugins in registration order and stops
// at the first failure.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.RLock()
	plugins := append([]lifecyclePlugin(nil), r.lifecycle...)
	r.mu.RUnlock()

	for _, lp := range plugins {
		if err := lp.plugin.Initialize(ctx); err != nil {
			return fmt.Errorf("plugin %s initialization failed: %w", lp.name, err)
		}
	}
	return nil
}

// Shutdown shuts lifecycle plugins down in reverse order. Every plugin is
// asked to shut down even when an earlier one fails.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	plugins := append([]lifecyclePlugin(nil), r.lifecycle...)
	r.mu.RUnlock()

	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		if err := plugins[i].plugin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s shutdown failed: %w", plugins[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// RegisterProcedure makes p reachable by name.
func (r *Registry) RegisterProcedure(p *Procedure) error {
	if p == nil {
		return fmt.Errorf("procedure cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procedures[p.Name()]; exists {
		return fmt.Errorf("procedure %s is already registered", p.Name())
	}
	r.procedures[p.Name()] = p
	return nil
}

func (r *Registry) Procedure(name string) (*Procedure, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procedures[name]
	return p, ok
}

func (r *Registry) ProcedureNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.procedures)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// taskFromMethod wraps method of recv as a Task when its signature is one
// of the accepted task signatures. method.Type includes the receiver.
func taskFromMethod(recv reflect.Value, method reflect.Method) (Task, bool) {
	mt := method.Type
	if mt.NumIn() != 3 || mt.NumOut() != 2 {
		return nil, false
	}
	if mt.In(1) != contextType || mt.Out(1) != errorType {
		return nil, false
	}

	in, out := mt.In(2), mt.Out(0)
	if in == argsType && out == argsType {
		return mapTask(recv, method), true
	}
	if isStructLike(in) && (isStructLike(out) || out == argsType) {
		return typedTask(recv, method), true
	}
	return nil, false
}

func isStructLike(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

func mapTask(recv reflect.Value, method reflect.Method) Task {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		if args == nil {
			args = map[string]any{}
		}
		results := method.Func.Call([]reflect.Value{recv, reflect.ValueOf(&ctx).Elem(), reflect.ValueOf(args)})
		out, _ := results[0].Interface().(map[string]any)
		return out, asError(results[1])
	}
}

func typedTask(recv reflect.Value, method reflect.Method) Task {
	inType := method.Type.In(2)
	structType := inType
	if structType.Kind() == reflect.Pointer {
		structType = structType.Elem()
	}

	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		input := reflect.New(structType)
		if err := decodeMap(args, input.Interface(), argsTag); err != nil {
			return nil, fmt.Errorf("task %s: invalid input: %w", method.Name, err)
		}
		if err := ValidateStruct(input.Interface()); err != nil {
			return nil, fmt.Errorf("task %s: invalid input: %w", method.Name, err)
		}
		arg := input
		if inType.Kind() != reflect.Pointer {
			arg = input.Elem()
		}

		results := method.Func.Call([]reflect.Value{recv, reflect.ValueOf(&ctx).Elem(), arg})
		if err := asError(results[1]); err != nil {
			return nil, err
		}

		out := results[0]
		if out.Kind() == reflect.Pointer && out.IsNil() {
			return nil, nil
		}
		if m, ok := out.Interface().(map[string]any); ok {
			return m, nil
		}
		m, err := encodeMap(out.Interface())
		if err != nil {
			return nil, fmt.Errorf("task %s: invalid output: %w", method.Name, err)
		}
		return m, nil
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

func toLowerFirst(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToLower(s[:1]) + s[1:]
}
