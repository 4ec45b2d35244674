package executor

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/BaSui01/pipeflow/types"
)

// Factory builds a fresh instance of a user class. Its exported methods are
// looked up by name from the bundle's entry point.
type Factory func() any

// Registry maps function keys to the Go callables a binary embeds. Bundles
// only name a key; the code itself must be compiled into the binary that runs
// the executor.
type Registry struct {
	mu        sync.RWMutex
	funcs     map[string]reflect.Value
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:     make(map[string]reflect.Value),
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry is used by Register, RegisterClass and runtimes built
// without WithRegistry. It starts out holding the built-in functions.
var DefaultRegistry = newDefaultRegistry()

// Register binds key to fn on the default registry.
func Register(key string, fn any) error {
	return DefaultRegistry.Register(key, fn)
}

// RegisterClass binds key to a class factory on the default registry.
func RegisterClass(key string, factory Factory) error {
	return DefaultRegistry.RegisterClass(key, factory)
}

// Register binds key to fn, which must be a non-nil function.
func (r *Registry) Register(key string, fn any) error {
	if key == "" {
		return fmt.Errorf("function key is empty")
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("function %q: expected a func, got %T", key, fn)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[key] = v
	return nil
}

// RegisterClass binds key to factory.
func (r *Registry) RegisterClass(key string, factory Factory) error {
	if key == "" {
		return fmt.Errorf("class key is empty")
	}
	if factory == nil {
		return fmt.Errorf("class %q: factory is nil", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
	return nil
}

// Keys lists every registered key in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.funcs)+len(r.factories))
	for k := range r.funcs {
		keys = append(keys, k)
	}
	for k := range r.factories {
		if _, dup := r.funcs[k]; !dup {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Resolve returns the callable for an entry point. With a class name the
// factory registered under key is instantiated and method is bound on the
// instance; otherwise key names a plain function.
func (r *Registry) Resolve(key, className, method string) (reflect.Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if className != "" {
		factory, ok := r.factories[key]
		if !ok {
			return reflect.Value{}, notRegistered(key)
		}
		inst := factory()
		if inst == nil {
			return reflect.Value{}, types.Errorf(types.ErrUserFatal, "class %s factory returned nil", className)
		}
		m := reflect.ValueOf(inst).MethodByName(method)
		if !m.IsValid() {
			return reflect.Value{}, types.Errorf(types.ErrUserFatal, "class %s has no exported method %s", className, method).
				WithTip("Check that the entry point method exists and is exported.")
		}
		return m, nil
	}

	fn, ok := r.funcs[key]
	if !ok {
		return reflect.Value{}, notRegistered(key)
	}
	return fn, nil
}

func notRegistered(key string) *types.Error {
	return types.Errorf(types.ErrUserFatal, "function %q is not registered in this executor", key).
		WithTip("Register the function with executor.Register in the binary that runs operators.")
}
