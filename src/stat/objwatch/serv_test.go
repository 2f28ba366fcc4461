package objwatch

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/heapx"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/record"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/threshold"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu    sync.Mutex
	res   []int64
	calls int
	err   error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Stats(_ context.Context, pid int) (*record.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	res := int64(1024)
	if len(p.res) > 0 {
		i := p.calls - 1
		if i >= len(p.res) {
			i = len(p.res) - 1
		}
		res = p.res[i]
	}
	r := record.New()
	r.Set("virt", res*4)
	r.Set("res", res)
	r.Set("shr", int64(512))
	r.Set("%cpu", 0.5)
	r.Set("%mem", 1.2)
	r.Set("time+", "0:01.50")
	return r, nil
}

func (p *fakeProvider) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Emit(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WatchDelay = 0
	cfg.WatchInterval = 50 * time.Millisecond
	cfg.Threshold = threshold.Config{}
	return cfg
}

func newTestWatcher(t *testing.T, cfg Config, p *fakeProvider, sink Sink, opts ...Option) *Watcher {
	t.Helper()
	opts = append([]Option{WithProvider(p), WithSink(sink), WithRegistry(heapx.NewRegistry())}, opts...)
	w, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return w
}

func TestTickEmitsRecordInOrder(t *testing.T) {
	c := &collector{}
	w := newTestWatcher(t, testConfig(), &fakeProvider{}, c)

	s, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.False(t, s.MemoryLeaks)

	events := c.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, DefaultTag, ev.Tag)
	assert.Equal(t, []string{"pid", "count", "memory_leaks", "memsize_of_all", "virt", "res", "shr", "%cpu", "%mem", "time+"}, ev.Record.Keys())
	leaks, _ := ev.Record.Get(KeyMemoryLeaks)
	assert.Equal(t, false, leaks)
	count, _ := ev.Record.Get(KeyCount)
	assert.Equal(t, map[string]int64{}, count)
	memsize, ok := ev.Record.Int(KeyMemsizeOfAll)
	assert.True(t, ok)
	assert.Positive(t, memsize)

	base, ok := w.Baseline()
	require.True(t, ok)
	assert.Equal(t, s.MemsizeOfAll, base.MemsizeOfAll)
	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, s.At, latest.At)
}

func TestTickBeforeWarmUpDoesNothing(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	cfg := testConfig()
	cfg.WatchDelay = 10 * time.Second
	p := &fakeProvider{}
	c := &collector{}
	w := newTestWatcher(t, cfg, p, c, WithClock(clock))

	_, err := w.Tick(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, c.all())
	assert.Zero(t, p.calls)
	_, ok := w.Baseline()
	assert.False(t, ok)

	now = now.Add(10 * time.Second)
	_, err = w.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.all(), 1)
}

func TestResidentGrowthIsFlagged(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = threshold.Config{ResOfTop: threshold.Rate(1.5)}
	c := &collector{}
	w := newTestWatcher(t, cfg, &fakeProvider{res: []int64{1000, 1400, 2000}}, c)

	for i := 0; i < 3; i++ {
		_, err := w.Tick(context.Background())
		require.NoError(t, err)
	}
	events := c.all()
	require.Len(t, events, 3)
	assert.False(t, events[0].Sample.MemoryLeaks)
	assert.False(t, events[1].Sample.MemoryLeaks)
	assert.True(t, events[2].Sample.MemoryLeaks)

	out := events[2].Outcome
	assert.True(t, out.Fired(threshold.MetricRes))
	assert.Equal(t, "Memory usage is over than expected, threshold res_of_top rate <1.500000>: 2000.000000 > 1000.000000 * 1.500000", out.Message)
	leaks, _ := events[2].Record.Get(KeyMemoryLeaks)
	assert.Equal(t, true, leaks)
}

var retained [][]byte

func TestHeapGrowthIsFlagged(t *testing.T) {
	cfg := testConfig()
	cfg.ForceGC = true
	cfg.Threshold = threshold.Default()
	c := &collector{}
	w := newTestWatcher(t, cfg, &fakeProvider{}, c)

	_, err := w.Tick(context.Background())
	require.NoError(t, err)
	base, _ := w.Baseline()

	retained = append(retained, make([]byte, int(base.MemsizeOfAll)+64<<20))
	t.Cleanup(func() { retained = nil })

	s, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, s.MemoryLeaks)
	out := c.all()[1].Outcome
	assert.True(t, out.Fired(threshold.MetricMemsize))
	assert.Contains(t, out.Message, "threshold memsize_of_all rate <1.300000>")
	runtime.KeepAlive(retained)
}

func TestBaselineTickNeverFires(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = threshold.Config{ResOfTop: threshold.Rate(0.5), MemsizeOfAll: threshold.Rate(0.5)}
	c := &collector{}
	w := newTestWatcher(t, cfg, &fakeProvider{}, c)

	s, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, s.MemoryLeaks)
	first := c.all()[0]
	assert.False(t, first.Outcome.Triggered)
	assert.Empty(t, first.Outcome.Checks)
	leaks, _ := first.Record.Get(KeyMemoryLeaks)
	assert.Equal(t, false, leaks)

	// the same figures on a later tick exceed baseline * 0.5
	s, err = w.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, s.MemoryLeaks)
	assert.True(t, c.all()[1].Outcome.Fired(threshold.MetricRes))
}

func TestSubUnityRateIsValid(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = threshold.Config{MemsizeOfAll: threshold.Rate(0.9)}
	require.NoError(t, cfg.Validate())

	c := &collector{}
	w := newTestWatcher(t, cfg, &fakeProvider{}, c)
	s, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, s.MemoryLeaks)
	base, ok := w.Baseline()
	require.True(t, ok)
	assert.Equal(t, s.MemsizeOfAll, base.MemsizeOfAll)
}

func TestProviderFailureSkipsTick(t *testing.T) {
	p := &fakeProvider{}
	p.fail(errors.New("parse failed"))
	c := &collector{}
	w := newTestWatcher(t, testConfig(), p, c)

	_, err := w.Tick(context.Background())
	assert.Error(t, err)
	assert.Empty(t, c.all())
	_, ok := w.Baseline()
	assert.False(t, ok)

	p.fail(nil)
	_, err = w.Tick(context.Background())
	require.NoError(t, err)
	_, ok = w.Baseline()
	assert.True(t, ok)
}

func TestCustomTag(t *testing.T) {
	cfg := testConfig()
	cfg.Tag = "app.memory"
	c := &collector{}
	w := newTestWatcher(t, cfg, &fakeProvider{}, c)

	_, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app.memory", c.all()[0].Tag)
}

func TestGCRawDataKey(t *testing.T) {
	cfg := testConfig()
	cfg.GCRawData = true
	c := &collector{}
	w := newTestWatcher(t, cfg, &fakeProvider{}, c)

	runtime.GC()
	_, err := w.Tick(context.Background())
	require.NoError(t, err)
	rec := c.all()[0].Record
	raw, ok := rec.Get(KeyGCRawData)
	require.True(t, ok)
	cycles, ok := raw.([]map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, cycles)
	assert.Contains(t, cycles[0], "heap_use_size")
	assert.Equal(t, "gc_raw_data", rec.Keys()[4])

	cfg.GCRawData = false
	c2 := &collector{}
	w2 := newTestWatcher(t, cfg, &fakeProvider{}, c2)
	_, err = w2.Tick(context.Background())
	require.NoError(t, err)
	_, ok = c2.all()[0].Record.Get(KeyGCRawData)
	assert.False(t, ok)
}

func TestCountKeysAreLowerCase(t *testing.T) {
	reg := heapx.NewRegistry()
	reg.MustRegister("Session", func() (int64, error) { return 3, nil })
	cfg := testConfig()
	cfg.WatchClass = []string{"Session"}
	c := &collector{}
	w := newTestWatcher(t, cfg, &fakeProvider{}, c, WithRegistry(reg))

	_, err := w.Tick(context.Background())
	require.NoError(t, err)
	count, _ := c.all()[0].Record.Get(KeyCount)
	assert.Equal(t, map[string]int64{"session": 3}, count)
}

func TestWatcherInstancesAreCountable(t *testing.T) {
	cfg := testConfig()
	cfg.WatchClass = []string{heapx.TypeName[Watcher]()}
	c := &collector{}
	w, err := New(context.Background(), cfg, WithProvider(&fakeProvider{}), WithSink(c))
	require.NoError(t, err)

	_, err = w.Tick(context.Background())
	require.NoError(t, err)
	count, _ := c.all()[0].Record.Get(KeyCount)
	assert.GreaterOrEqual(t, count.(map[string]int64)["objwatch.watcher"], int64(1))
}

func TestNewRejectsUnknownModule(t *testing.T) {
	cfg := testConfig()
	cfg.Modules = []string{"no-such-module"}
	_, err := New(context.Background(), cfg, WithProvider(&fakeProvider{}), WithRegistry(heapx.NewRegistry()))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "modules", ce.Field)
	assert.Contains(t, err.Error(), "module <no-such-module> can't be loaded")
}

func TestNewRejectsUnknownClass(t *testing.T) {
	cfg := testConfig()
	cfg.WatchClass = []string{"NoSuchThing"}
	_, err := New(context.Background(), cfg, WithProvider(&fakeProvider{}), WithRegistry(heapx.NewRegistry()))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "watch_class", ce.Field)
}

func TestModuleMakesClassResolvable(t *testing.T) {
	heapx.RegisterModule("objwatch-test-pool", func(r *heapx.Registry) error {
		return r.Register("pool.conn", func() (int64, error) { return 7, nil })
	})
	reg := heapx.NewRegistry()
	cfg := testConfig()
	cfg.Modules = []string{"objwatch-test-pool"}
	cfg.WatchClass = []string{"pool.conn"}
	c := &collector{}
	w := newTestWatcher(t, cfg, &fakeProvider{}, c, WithRegistry(reg))

	_, err := w.Tick(context.Background())
	require.NoError(t, err)
	count, _ := c.all()[0].Record.Get(KeyCount)
	assert.Equal(t, map[string]int64{"pool.conn": 7}, count)
}

func TestSetThresholdsValidates(t *testing.T) {
	cfg := testConfig()
	cfg.TopFields = []string{"VIRT"}
	w := newTestWatcher(t, cfg, &fakeProvider{}, Discard)

	err := w.SetThresholds(threshold.Config{ResOfTop: threshold.Rate(2)})
	assert.Error(t, err)
	require.NoError(t, w.SetThresholds(threshold.Config{MemsizeOfAll: threshold.Rate(2)}))
	assert.Equal(t, 2.0, *w.Thresholds().MemsizeOfAll)
}

type blockingProvider struct {
	fakeProvider
	release chan struct{}
	entered chan struct{}
}

func (p *blockingProvider) Stats(ctx context.Context, pid int) (*record.Record, error) {
	p.entered <- struct{}{}
	<-p.release
	return p.fakeProvider.Stats(ctx, pid)
}

func TestOverlappingTickIsRejected(t *testing.T) {
	p := &blockingProvider{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	w, err := New(context.Background(), testConfig(), WithProvider(p), WithRegistry(heapx.NewRegistry()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := w.Tick(context.Background())
		done <- err
	}()
	<-p.entered
	_, err = w.Tick(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	close(p.release)
	require.NoError(t, <-done)
}

func TestStartStop(t *testing.T) {
	c := &collector{}
	w := newTestWatcher(t, testConfig(), &fakeProvider{}, c)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(c.all()) >= 2 }, 2*time.Second, 10*time.Millisecond)
	w.Stop()
	w.Stop()

	n := len(c.all())
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, n, len(c.all()))
}

func TestStartWithDelayEmitsNothingInWindow(t *testing.T) {
	cfg := testConfig()
	cfg.WatchDelay = 10 * time.Second
	c := &collector{}
	w := newTestWatcher(t, cfg, &fakeProvider{}, c)

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(200 * time.Millisecond)
	w.Stop()
	assert.Empty(t, c.all())
}
