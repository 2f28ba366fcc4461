// Package heapx reads in-process heap state: aggregate live bytes, per-class
// instance counts and raw collector cycle statistics.
package heapx

import (
	"fmt"
	"runtime"
	"sync"
)

// Options configure an Introspector.
type Options struct {
	// Registry resolves Classes; Default when nil.
	Registry *Registry
	Classes  []string
	// GCRawData enables RawCycleStats.
	GCRawData bool
	// ForceGC runs a collection before reading heap bytes so only reachable objects count.
	ForceGC bool
}

// Introspector answers heap questions for one watcher.
type Introspector struct {
	bound   []Bound
	gcRaw   bool
	forceGC bool

	mu     sync.Mutex
	lastGC uint32
}

// Snapshot is one read of everything an Introspector is configured to gather.
type Snapshot struct {
	HeapBytes int64
	Counts    map[string]int64
	// Cycles is nil unless raw cycle stats are enabled.
	Cycles []CycleStat
}

// New resolves the configured classes up front so unknown names fail at start-up.
func New(opts Options) (*Introspector, error) {
	reg := opts.Registry
	if reg == nil {
		reg = Default
	}
	bound, err := reg.Resolve(opts.Classes)
	if err != nil {
		return nil, err
	}
	in := &Introspector{
		bound:   bound,
		gcRaw:   opts.GCRawData,
		forceGC: opts.ForceGC,
	}
	if in.gcRaw {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		in.lastGC = ms.NumGC
	}
	return in, nil
}

// Classes returns the resolved watch-class keys in configuration order.
func (in *Introspector) Classes() []string {
	out := make([]string, len(in.bound))
	for i, b := range in.bound {
		out[i] = b.Key
	}
	return out
}

// AggregateHeapBytes is the byte size of allocated heap objects, read with the world stopped.
func (in *Introspector) AggregateHeapBytes() int64 {
	if in.forceGC {
		runtime.GC()
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc)
}

// CountLiveInstances counts one configured class.
func (in *Introspector) CountLiveInstances(class string) (int64, error) {
	key := normalize(class)
	for _, b := range in.bound {
		if b.Key == key {
			return b.Count()
		}
	}
	return 0, fmt.Errorf("heapx: class %q is not watched", class)
}

// Counts counts every configured class. The map is empty, never nil, when none is configured.
func (in *Introspector) Counts() (map[string]int64, error) {
	out := make(map[string]int64, len(in.bound))
	for _, b := range in.bound {
		n, err := b.Count()
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", b.Key, err)
		}
		if n < 0 {
			n = 0
		}
		out[b.Key] = n
	}
	return out, nil
}

// RawCycleStats returns the collections completed since the previous call.
// It returns nil when raw data is disabled.
func (in *Introspector) RawCycleStats() []CycleStat {
	if !in.gcRaw {
		return nil
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	in.mu.Lock()
	defer in.mu.Unlock()
	cycles := cyclesSince(&ms, in.lastGC)
	in.lastGC = ms.NumGC
	if cycles == nil {
		cycles = []CycleStat{}
	}
	return cycles
}

// Snapshot gathers heap bytes, counts and (when enabled) cycle stats.
func (in *Introspector) Snapshot() (Snapshot, error) {
	snap := Snapshot{HeapBytes: in.AggregateHeapBytes()}
	counts, err := in.Counts()
	if err != nil {
		return Snapshot{}, err
	}
	snap.Counts = counts
	snap.Cycles = in.RawCycleStats()
	return snap, nil
}
