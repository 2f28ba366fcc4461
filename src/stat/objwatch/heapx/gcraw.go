package heapx

import (
	"runtime"
	"time"
)

var processStart = time.Now()

// CycleStat describes one completed collection.
type CycleStat struct {
	Num uint32
	// Flags is the running total of forced cycles at read time, not a per-cycle value.
	Flags         uint32
	Time          float64 // stop-the-world pause, seconds
	InvokeTime    float64 // seconds since process start when the pause ended
	HeapUseSize   uint64
	HeapTotalSize uint64
	HeapObjects   uint64
}

// Map renders the stat with the key names used in emitted records.
func (c CycleStat) Map() map[string]any {
	return map[string]any{
		"gc_num":             int64(c.Num),
		"gc_flags":           int64(c.Flags),
		"gc_time":            c.Time,
		"gc_invoke_time":     c.InvokeTime,
		"heap_use_size":      int64(c.HeapUseSize),
		"heap_total_size":    int64(c.HeapTotalSize),
		"heap_total_objects": int64(c.HeapObjects),
	}
}

// pauseRing is the size of the runtime's PauseNs/PauseEnd ring buffers.
const pauseRing = 256

// cyclesSince returns the cycles completed after last, oldest first. Heap figures are
// the current totals since the runtime does not keep them per cycle.
func cyclesSince(ms *runtime.MemStats, last uint32) []CycleStat {
	if ms.NumGC <= last {
		return nil
	}
	from := last + 1
	if ms.NumGC-last > pauseRing {
		from = ms.NumGC - pauseRing + 1
	}
	start := uint64(processStart.UnixNano())
	out := make([]CycleStat, 0, ms.NumGC-from+1)
	for n := from; n <= ms.NumGC; n++ {
		idx := (n + pauseRing - 1) % pauseRing
		var invoke float64
		if end := ms.PauseEnd[idx]; end > start {
			invoke = float64(end-start) / float64(time.Second)
		}
		out = append(out, CycleStat{
			Num:           n,
			Flags:         ms.NumForcedGC,
			Time:          float64(ms.PauseNs[idx]) / float64(time.Second),
			InvokeTime:    invoke,
			HeapUseSize:   ms.HeapAlloc,
			HeapTotalSize: ms.HeapSys,
			HeapObjects:   ms.HeapObjects,
		})
	}
	return out
}
