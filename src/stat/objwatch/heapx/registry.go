package heapx

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Counter returns the current number of live instances of something.
type Counter func() (int64, error)

// AllocPrefix selects an allocation-site counter backed by the heap profile,
// e.g. "alloc:github.com/acme/app/cache.(*Store).Put".
const AllocPrefix = "alloc:"

// Registry maps watch-class names to counters. Names are case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]Counter
	loaded   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]Counter),
		loaded:   make(map[string]struct{}),
	}
}

// Default is the process-wide registry. It is pre-populated with the built-in counters,
// Track registers tracked types here and modules usually add to it.
var Default = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("goroutine", func() (int64, error) {
		return int64(runtime.NumGoroutine()), nil
	})
	r.MustRegister("heapobject", func() (int64, error) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return int64(ms.HeapObjects), nil
	})
	return r
}

// Register adds a counter. Registering the same name twice is an error.
func (r *Registry) Register(name string, c Counter) error {
	key := normalize(name)
	if key == "" {
		return fmt.Errorf("heapx: empty counter name")
	}
	if c == nil {
		return fmt.Errorf("heapx: nil counter for %q", name)
	}
	if strings.HasPrefix(key, AllocPrefix) {
		return fmt.Errorf("heapx: %q uses the reserved %q prefix", name, AllocPrefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counters[key]; ok {
		return fmt.Errorf("heapx: counter %q already registered", key)
	}
	r.counters[key] = c
	return nil
}

func (r *Registry) MustRegister(name string, c Counter) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

// upsert replaces or adds a counter; used by Track which may race on first use.
func (r *Registry) upsert(name string, c Counter) {
	r.mu.Lock()
	r.counters[normalize(name)] = c
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Counter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.counters[normalize(name)]
	return c, ok
}

// Names lists the registered counters, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.counters))
	for k := range r.counters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Bound is a resolved watch class.
type Bound struct {
	Key   string
	Count Counter
}

// Resolve turns configured class names into counters, failing on the first unknown name.
func (r *Registry) Resolve(names []string) ([]Bound, error) {
	out := make([]Bound, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := normalize(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if strings.HasPrefix(key, AllocPrefix) {
			prefix := strings.TrimSpace(strings.TrimSpace(name)[len(AllocPrefix):])
			if prefix == "" {
				return nil, fmt.Errorf("heapx: %q has no function prefix", name)
			}
			out = append(out, Bound{Key: key, Count: allocSiteCounter(prefix)})
			continue
		}
		c, ok := r.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("heapx: unknown watch class %q", name)
		}
		out = append(out, Bound{Key: key, Count: c})
	}
	return out, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
