package objwatch

import (
	"time"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/heapx"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/record"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/threshold"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/toptab"
)

const (
	KeyPID          = "pid"
	KeyCount        = "count"
	KeyMemoryLeaks  = "memory_leaks"
	KeyMemsizeOfAll = "memsize_of_all"
	KeyGCRawData    = "gc_raw_data"
)

// Sample is one observation of the process.
type Sample struct {
	At           time.Time
	PID          int
	Count        map[string]int64
	MemoryLeaks  bool
	MemsizeOfAll int64
	// GCRawData is nil unless raw cycle stats are enabled.
	GCRawData []heapx.CycleStat
	// Top holds the tool-reported columns keyed lower-case.
	Top *record.Record
}

// Record lays the sample out in emission order: pid, count, memory_leaks,
// memsize_of_all, gc_raw_data when enabled, then the tabular fields.
func (s Sample) Record() *record.Record {
	r := record.New()
	r.Set(KeyPID, int64(s.PID))
	count := make(map[string]int64, len(s.Count))
	for k, v := range s.Count {
		count[k] = v
	}
	r.Set(KeyCount, count)
	r.Set(KeyMemoryLeaks, s.MemoryLeaks)
	r.Set(KeyMemsizeOfAll, s.MemsizeOfAll)
	if s.GCRawData != nil {
		cycles := make([]map[string]any, 0, len(s.GCRawData))
		for _, c := range s.GCRawData {
			cycles = append(cycles, c.Map())
		}
		r.Set(KeyGCRawData, cycles)
	}
	if s.Top != nil {
		r.Merge(s.Top)
	}
	return r
}

func (s Sample) metrics() threshold.Metrics {
	m := threshold.Metrics{Memsize: s.MemsizeOfAll}
	if s.Top != nil {
		m.Res, m.HasRes = s.Top.Int(toptab.Key(toptab.FieldRes))
	}
	return m
}

// Event is what a Sink receives for every emitted sample.
type Event struct {
	Tag     string
	Time    time.Time
	Record  *record.Record
	Sample  Sample
	Outcome threshold.Outcome
}

// LeakEvent is the persisted form of a flagged sample.
type LeakEvent struct {
	At       int64   `json:"at"`
	Tag      string  `json:"tag"`
	PID      int64   `json:"pid"`
	Metric   string  `json:"metric"`
	Rate     float64 `json:"rate"`
	Current  float64 `json:"current"`
	Baseline float64 `json:"baseline"`
	Message  string  `json:"message"`
	Record   string  `json:"record"`
}
