// Package registry resolves the module/method bindings of service tasks.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/processengine/pkg/domain"
)

// Method is one invocable operation of a module.
// It receives the decoded binding parameters and the caller identity.
type Method func(ctx context.Context, params map[string]any, identity domain.Identity) (any, error)

// Module groups methods under a name. Methods is the simplest implementation;
// the process adapter provides another one backed by OS processes.
type Module interface {
	Call(ctx context.Context, method string, params map[string]any, identity domain.Identity) (any, error)
}

// ErrMethodNotFound is returned when a module has no such method.
var ErrMethodNotFound = fmt.Errorf("method not found")

// ErrModuleNotFound is returned for unknown modules.
var ErrModuleNotFound = fmt.Errorf("module not found")

// Methods is a Module made of plain functions.
type Methods map[string]Method

func (m Methods) Call(ctx context.Context, method string, params map[string]any, identity domain.Identity) (any, error) {
	fn, ok := m[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
	return fn(ctx, params, identity)
}

// Registry implements ports.ServiceInvoker.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Module),
	}
}

// RegisterModule adds a module. A module with the same name is overwritten.
func (r *Registry) RegisterModule(name string, m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = m
}

// Register adds a single method, creating the module if needed.
func (r *Registry) Register(module, method string, fn Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	methods, ok := r.modules[module].(Methods)
	if !ok {
		methods = Methods{}
		r.modules[module] = methods
	}
	methods[method] = fn
}

// Modules returns the registered module names.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke looks up module and calls method on it.
func (r *Registry) Invoke(ctx context.Context, module, method string, params map[string]any, identity domain.Identity) (any, error) {
	r.mu.RLock()
	m, ok := r.modules[module]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, module)
	}
	return m.Call(ctx, method, params, identity)
}
