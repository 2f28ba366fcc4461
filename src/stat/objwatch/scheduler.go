package objwatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jom-io/gorig/cronx"
)

// Scheduler invokes fn every interval until the returned stop is called.
// stop must be safe to call more than once.
type Scheduler interface {
	Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) (stop func())
}

// TickerScheduler runs fn on a dedicated goroutine driven by a time.Ticker.
// stop waits for an in-flight call to return.
type TickerScheduler struct{}

func (TickerScheduler) Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

// CronScheduler hands the job to the application cron. Jobs cannot be removed
// from it, so stop only disables the callback.
type CronScheduler struct {
	// Timeout bounds one call; the interval is used when zero.
	Timeout time.Duration
}

func (s CronScheduler) Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) func() {
	var stopped atomic.Bool
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = interval
	}
	cronx.AddCronTask(fmt.Sprintf("@every %s", interval), func(cctx context.Context) {
		if stopped.Load() || ctx.Err() != nil {
			return
		}
		fn(cctx)
	}, timeout)
	return func() { stopped.Store(true) }
}
