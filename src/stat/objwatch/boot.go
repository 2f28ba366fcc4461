package objwatch

import (
	"context"

	"github.com/jom-io/gorig/utils/logger"
	"go.uber.org/zap"
)

// Boot builds a watcher from the application configuration, schedules it on the
// application cron and makes it the Default. Leaks are journaled only when
// om.watch.journal is set.
func Boot(ctx context.Context, extra ...Sink) (*Watcher, error) {
	cfg, err := LoadConfig()
	if err != nil {
		logger.Error(ctx, "Failed to load object watcher config", zap.Error(err))
		return nil, err
	}
	w, err := New(ctx, cfg, WithSink(bootSinks(cfg, extra)), WithScheduler(CronScheduler{Timeout: cfg.CommandTimeout + cfg.WatchInterval}))
	if err != nil {
		logger.Error(ctx, "Failed to create object watcher", zap.Error(err))
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	SetDefault(w)
	return w, nil
}

func bootSinks(cfg Config, extra []Sink) Multi {
	var sinks Multi
	if cfg.Journal {
		sinks = append(sinks, J())
	}
	return append(sinks, extra...)
}
