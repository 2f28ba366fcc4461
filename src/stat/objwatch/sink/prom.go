// Package sink holds objwatch.Sink implementations for export outside the process.
package sink

import (
	"context"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/record"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus mirrors every sample into gauges labelled by tag.
type Prometheus struct {
	memsize *prometheus.GaugeVec
	leaking *prometheus.GaugeVec
	classes *prometheus.GaugeVec
	fields  *prometheus.GaugeVec
	ratio   *prometheus.GaugeVec
	samples *prometheus.CounterVec
	flagged *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		memsize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "objwatch_memsize_of_all_bytes",
				Help: "Bytes of allocated heap objects at the last sample",
			},
			[]string{"tag"},
		),
		leaking: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "objwatch_memory_leaks",
				Help: "1 when the last sample exceeded a threshold, else 0",
			},
			[]string{"tag"},
		),
		classes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "objwatch_class_count",
				Help: "Live instances per watched class",
			},
			[]string{"tag", "class"},
		),
		fields: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "objwatch_process_field",
				Help: "Numeric process columns such as res, virt and %cpu",
			},
			[]string{"tag", "field"},
		),
		ratio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "objwatch_baseline_ratio",
				Help: "Current value divided by the baseline value per threshold metric",
			},
			[]string{"tag", "metric"},
		),
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "objwatch_samples_total",
				Help: "Samples emitted",
			},
			[]string{"tag"},
		),
		flagged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "objwatch_leaks_total",
				Help: "Samples flagged per triggering metric",
			},
			[]string{"tag", "metric"},
		),
	}
	for _, c := range []prometheus.Collector{p.memsize, p.leaking, p.classes, p.fields, p.ratio, p.samples, p.flagged} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) Emit(_ context.Context, ev objwatch.Event) error {
	s := ev.Sample
	p.samples.WithLabelValues(ev.Tag).Inc()
	p.memsize.WithLabelValues(ev.Tag).Set(float64(s.MemsizeOfAll))
	leaking := 0.0
	if s.MemoryLeaks {
		leaking = 1
	}
	p.leaking.WithLabelValues(ev.Tag).Set(leaking)
	for class, n := range s.Count {
		p.classes.WithLabelValues(ev.Tag, class).Set(float64(n))
	}
	p.setFields(ev.Tag, s.Top)
	for _, c := range ev.Outcome.Checks {
		if c.Baseline > 0 {
			p.ratio.WithLabelValues(ev.Tag, c.Metric).Set(c.Current / c.Baseline)
		}
		if c.Triggered {
			p.flagged.WithLabelValues(ev.Tag, c.Metric).Inc()
		}
	}
	return nil
}

func (p *Prometheus) setFields(tag string, top *record.Record) {
	if top == nil {
		return
	}
	for _, k := range top.Keys() {
		if f, ok := top.Float(k); ok {
			p.fields.WithLabelValues(tag, k).Set(f)
			continue
		}
		if n, ok := top.Int(k); ok {
			p.fields.WithLabelValues(tag, k).Set(float64(n))
		}
	}
}
