package heapx

import (
	"fmt"
	"sort"
	"sync"
)

// Module contributes counters to a registry. Modules are the Go stand-in for
// libraries that must be loaded before their types can be watched.
type Module func(r *Registry) error

var (
	modMu   sync.RWMutex
	modules = map[string]Module{}
)

// RegisterModule makes a module loadable by name, typically from an init function.
func RegisterModule(name string, m Module) {
	modMu.Lock()
	defer modMu.Unlock()
	modules[normalize(name)] = m
}

// Modules lists the registered module names.
func Modules() []string {
	modMu.RLock()
	defer modMu.RUnlock()
	out := make([]string, 0, len(modules))
	for k := range modules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadModules runs the named modules against r. A module already loaded into r is
// skipped. An unknown module or a failing loader stops at the first error.
func LoadModules(r *Registry, names []string) error {
	for _, name := range names {
		key := normalize(name)
		modMu.RLock()
		m, ok := modules[key]
		modMu.RUnlock()
		if !ok {
			return fmt.Errorf("module <%s> can't be loaded: not registered", name)
		}
		r.mu.Lock()
		_, done := r.loaded[key]
		r.mu.Unlock()
		if done {
			continue
		}
		if err := m(r); err != nil {
			return fmt.Errorf("module <%s> can't be loaded: %w", name, err)
		}
		r.mu.Lock()
		r.loaded[key] = struct{}{}
		r.mu.Unlock()
	}
	return nil
}
