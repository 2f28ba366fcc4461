// Package objwatch samples the running process on an interval, keeps the first
// sample as a baseline and flags later samples whose memory outgrew it.
package objwatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/baseline"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/heapx"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/procstat"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/threshold"
	"github.com/jom-io/gorig/utils/logger"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

func init() {
	heapx.Watch[Watcher]()
}

// Watcher owns one sampling loop.
type Watcher struct {
	id   string
	cfg  Config
	pid  int
	now  func() time.Time
	sink Sink

	provider procstat.Provider
	heap     *heapx.Introspector
	sched    Scheduler
	base     *baseline.Store[Sample]
	thr      atomic.Pointer[threshold.Config]
	latest   atomic.Pointer[Sample]
	busy     atomic.Bool
	warmupAt time.Time

	mu      sync.Mutex
	started bool
	stop    func()
	cancel  context.CancelFunc
}

type options struct {
	sink          Sink
	sched         Scheduler
	provider      procstat.Provider
	registry      *heapx.Registry
	now           func() time.Time
	pid           int
	platformCheck bool
}

type Option func(*options)

// WithSink sets where samples go. Several sinks can be combined with Multi.
func WithSink(s Sink) Option {
	return func(o *options) { o.sink = s }
}

func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.sched = s }
}

// WithProvider replaces the provider named in Config and skips the platform check.
func WithProvider(p procstat.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithRegistry resolves watch_class and modules against r instead of heapx.Default.
func WithRegistry(r *heapx.Registry) Option {
	return func(o *options) { o.registry = r }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPID samples another process. Heap figures still describe this one.
func WithPID(pid int) Option {
	return func(o *options) { o.pid = pid }
}

func WithoutPlatformCheck() Option {
	return func(o *options) { o.platformCheck = false }
}

// New validates cfg and prepares everything a tick needs. Any error here is a *ConfigError.
func New(ctx context.Context, cfg Config, opts ...Option) (*Watcher, error) {
	o := options{
		sink:          Discard,
		sched:         TickerScheduler{},
		registry:      heapx.Default,
		now:           time.Now,
		pid:           os.Getpid(),
		platformCheck: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := heapx.LoadModules(o.registry, cfg.Modules); err != nil {
		return nil, configErr("", "modules", "failed to load", err)
	}
	in, err := heapx.New(heapx.Options{
		Registry:  o.registry,
		Classes:   cfg.WatchClass,
		GCRawData: cfg.GCRawData,
		ForceGC:   cfg.ForceGC,
	})
	if err != nil {
		return nil, configErr("", "watch_class", "failed to resolve", err)
	}
	provider := o.provider
	if provider == nil {
		if o.platformCheck {
			if err := procstat.CheckPlatform(ctx, cfg.Provider); err != nil {
				return nil, configErr("", "provider", cfg.Provider, err)
			}
		}
		if provider, err = procstat.New(cfg.Provider, cfg.TopFields, cfg.CommandTimeout); err != nil {
			return nil, configErr("", "provider", cfg.Provider, err)
		}
	}
	w := &Watcher{
		id:       xid.New().String(),
		cfg:      cfg,
		pid:      o.pid,
		now:      o.now,
		sink:     o.sink,
		provider: provider,
		heap:     in,
		sched:    o.sched,
		base:     baseline.New[Sample](),
		warmupAt: o.now().Add(cfg.WatchDelay),
	}
	th := cfg.Threshold
	w.thr.Store(&th)
	return heapx.Track(w), nil
}

func (w *Watcher) ID() string       { return w.id }
func (w *Watcher) Config() Config   { return w.cfg }
func (w *Watcher) Tag() string      { return w.cfg.Tag }
func (w *Watcher) Provider() string { return w.provider.Name() }

// Start schedules ticks every watch_interval. Calling it twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	if w.cfg.ThresholdFile != "" {
		if err := WatchThresholdFile(ctx, w.cfg.ThresholdFile, w.cfg.Threshold, w.SetThresholds); err != nil {
			cancel()
			return configErr("", "threshold_file", "cannot watch", err)
		}
	}
	w.cancel = cancel
	w.stop = w.sched.Every(ctx, w.cfg.WatchInterval, w.refresh)
	w.started = true
	logger.Info(ctx, "Object watcher started",
		zap.String("watcher", w.id),
		zap.String("tag", w.cfg.Tag),
		zap.String("provider", w.provider.Name()),
		zap.Duration("interval", w.cfg.WatchInterval),
		zap.Time("warmupAt", w.warmupAt))
	return nil
}

// Stop cancels future ticks and waits for the scheduler to let go. Safe to call repeatedly.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.cancel()
	w.stop()
	w.started = false
	logger.Info(context.Background(), "Object watcher stopped", zap.String("watcher", w.id))
}

func (w *Watcher) refresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, fmt.Sprintf("Panic in object watcher tick: %v", r), zap.String("watcher", w.id))
		}
	}()
	if _, err := w.Tick(ctx); errors.Is(err, ErrBusy) {
		logger.Warn(ctx, "Skipping tick, previous one still running", zap.String("watcher", w.id))
	}
}

// Tick runs one sampling pass. Before the warm-up deadline it returns ErrNotReady
// and touches nothing. A failed read returns the error without emitting or
// recording a baseline.
func (w *Watcher) Tick(ctx context.Context) (*Sample, error) {
	now := w.now()
	if now.Before(w.warmupAt) {
		return nil, ErrNotReady
	}
	if !w.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer w.busy.Store(false)

	top, err := w.provider.Stats(ctx, w.pid)
	if err != nil {
		logger.Error(ctx, "Failed to read process stats", zap.String("provider", w.provider.Name()), zap.Int("pid", w.pid), zap.Error(err))
		return nil, err
	}
	snap, err := w.heap.Snapshot()
	if err != nil {
		logger.Error(ctx, "Failed to read heap state", zap.Error(err))
		return nil, err
	}
	s := Sample{
		At:           now,
		PID:          w.pid,
		Count:        snap.Counts,
		MemsizeOfAll: snap.HeapBytes,
		GCRawData:    snap.Cycles,
		Top:          top,
	}
	var out threshold.Outcome
	// The baseline sample is never compared with itself; a rate below 1 would flag it.
	if w.base.RecordIfEmpty(s) {
		logger.Info(ctx, "Baseline recorded",
			zap.String("tag", w.cfg.Tag),
			zap.Int64("memsize_of_all", s.MemsizeOfAll),
			zap.Any("count", s.Count))
	} else {
		base, _ := w.base.Current()
		out = threshold.Evaluate(base.metrics(), s.metrics(), w.Thresholds())
	}
	if out.Triggered {
		s.MemoryLeaks = true
		check, _ := out.First()
		logger.Error(ctx, out.Message,
			zap.String("watcher", w.id),
			zap.String("tag", w.cfg.Tag),
			zap.Int("pid", w.pid),
			zap.Float64("rate", check.Rate),
			zap.Float64("current", check.Current),
			zap.Float64("baseline", check.Baseline))
	}
	w.latest.Store(&s)

	ev := Event{Tag: w.cfg.Tag, Time: now, Record: s.Record(), Sample: s, Outcome: out}
	if err := w.sink.Emit(ctx, ev); err != nil {
		logger.Error(ctx, "Failed to emit sample", zap.String("tag", w.cfg.Tag), zap.Error(err))
		return &s, err
	}
	return &s, nil
}

// Latest is the most recent emitted sample.
func (w *Watcher) Latest() (Sample, bool) {
	s := w.latest.Load()
	if s == nil {
		return Sample{}, false
	}
	return *s, true
}

func (w *Watcher) Baseline() (Sample, bool) {
	return w.base.Current()
}

func (w *Watcher) Thresholds() threshold.Config {
	return *w.thr.Load()
}

// SetThresholds replaces the rates used from the next tick on.
func (w *Watcher) SetThresholds(c threshold.Config) error {
	full := w.cfg
	full.Threshold = c
	if err := full.Validate(); err != nil {
		return err
	}
	w.thr.Store(&c)
	logger.Info(context.Background(), "Thresholds updated",
		zap.String("watcher", w.id),
		zap.Any(threshold.MetricRes, c.ResOfTop),
		zap.Any(threshold.MetricMemsize, c.MemsizeOfAll))
	return nil
}
