// Package threshold compares a sample against the baseline with growth-rate multipliers.
package threshold

import "fmt"

const (
	MetricRes     = "res_of_top"
	MetricMemsize = "memsize_of_all"

	// DefaultMemsizeRate applies to aggregate heap bytes unless configured otherwise.
	DefaultMemsizeRate = 1.3

	description = "Memory usage is over than expected"
)

// Config holds one optional multiplier per metric. A nil or non-positive rate disables the check.
type Config struct {
	ResOfTop     *float64 `json:"res_of_top,omitempty" yaml:"res_of_top,omitempty" mapstructure:"res_of_top" validate:"omitempty,gte=0"`
	MemsizeOfAll *float64 `json:"memsize_of_all,omitempty" yaml:"memsize_of_all,omitempty" mapstructure:"memsize_of_all" validate:"omitempty,gte=0"`
}

// Rate returns a pointer for use in Config literals.
func Rate(v float64) *float64 {
	return &v
}

// Default enables the heap check at DefaultMemsizeRate and leaves the resident check off.
func Default() Config {
	return Config{MemsizeOfAll: Rate(DefaultMemsizeRate)}
}

func enabled(r *float64) bool {
	return r != nil && *r > 0
}

func (c Config) ResEnabled() bool     { return enabled(c.ResOfTop) }
func (c Config) MemsizeEnabled() bool { return enabled(c.MemsizeOfAll) }

// Metrics are the values a check reads from a sample.
type Metrics struct {
	Res     int64
	HasRes  bool
	Memsize int64
}

// Check is the result of one metric comparison.
type Check struct {
	Metric    string
	Rate      float64
	Current   float64
	Baseline  float64
	Triggered bool
}

// Limit is baseline * rate.
func (c Check) Limit() float64 {
	return c.Baseline * c.Rate
}

// Message renders the check in the operator-facing form.
func (c Check) Message() string {
	return fmt.Sprintf("%s, threshold %s rate <%f>: %f > %f * %f",
		description, c.Metric, c.Rate, c.Current, c.Baseline, c.Rate)
}

// Outcome is what Evaluate hands back to the caller. Nothing is thrown.
type Outcome struct {
	Triggered bool
	// Message describes the first check that fired, resident memory before heap.
	Message string
	Checks  []Check
}

// Fired reports whether the named metric triggered.
func (o Outcome) Fired(metric string) bool {
	for _, c := range o.Checks {
		if c.Metric == metric {
			return c.Triggered
		}
	}
	return false
}

// First returns the first triggered check.
func (o Outcome) First() (Check, bool) {
	for _, c := range o.Checks {
		if c.Triggered {
			return c, true
		}
	}
	return Check{}, false
}

// Evaluate runs every enabled check: resident memory first, then aggregate heap bytes.
// A check fires when current > baseline * rate.
func Evaluate(base, cur Metrics, cfg Config) Outcome {
	var out Outcome
	if cfg.ResEnabled() && base.HasRes && cur.HasRes {
		out.add(compare(MetricRes, *cfg.ResOfTop, float64(cur.Res), float64(base.Res)))
	}
	if cfg.MemsizeEnabled() {
		out.add(compare(MetricMemsize, *cfg.MemsizeOfAll, float64(cur.Memsize), float64(base.Memsize)))
	}
	return out
}

func compare(metric string, rate, current, baseline float64) Check {
	return Check{
		Metric:    metric,
		Rate:      rate,
		Current:   current,
		Baseline:  baseline,
		Triggered: baseline*rate < current,
	}
}

func (o *Outcome) add(c Check) {
	o.Checks = append(o.Checks, c)
	if c.Triggered && !o.Triggered {
		o.Triggered = true
		o.Message = c.Message()
	}
}
