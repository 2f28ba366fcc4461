package objwatch

import (
	"context"
	"encoding/json"

	"github.com/jom-io/gorig/cache"
	"github.com/jom-io/gorig/utils/errors"
	"github.com/jom-io/gorig/utils/logger"
	"go.uber.org/zap"
)

const (
	leakJournalName    = "watch_leak_event"
	leakEventKeepCount = 10000
)

// LeakJournal persists flagged samples only. It is a Sink.
type LeakJournal struct {
	storage cache.Pager[LeakEvent]
	keep    int64
}

var journal *LeakJournal

// J returns the process-wide journal, opening its table on first use.
func J() *LeakJournal {
	if journal == nil {
		journal = NewLeakJournal(context.Background(), leakJournalName)
	}
	return journal
}

func NewLeakJournal(ctx context.Context, name string) *LeakJournal {
	return &LeakJournal{
		storage: cache.NewPager[LeakEvent](ctx, cache.Sqlite, name),
		keep:    leakEventKeepCount,
	}
}

func (j *LeakJournal) Emit(ctx context.Context, ev Event) error {
	event, ok := leakEventOf(ev)
	if !ok {
		return nil
	}
	if err := j.storage.Put(event); err != nil {
		logger.Error(ctx, "Save leak event failed", zap.Error(err))
		return err
	}
	j.prune(ctx)
	return nil
}

func leakEventOf(ev Event) (LeakEvent, bool) {
	check, ok := ev.Outcome.First()
	if !ok {
		return LeakEvent{}, false
	}
	event := LeakEvent{
		At:       ev.Time.UnixMilli(),
		Tag:      ev.Tag,
		PID:      int64(ev.Sample.PID),
		Metric:   check.Metric,
		Rate:     check.Rate,
		Current:  check.Current,
		Baseline: check.Baseline,
		Message:  ev.Outcome.Message,
	}
	if ev.Record != nil {
		if raw, err := json.Marshal(ev.Record); err == nil {
			event.Record = string(raw)
		}
	}
	return event, true
}

func (j *LeakJournal) Latest(ctx context.Context) (*LeakEvent, *errors.Error) {
	page, err := j.storage.Find(1, 1, nil, cache.PageSorterDesc("at"))
	if err != nil {
		logger.Error(ctx, "Find leak event failed", zap.Error(err))
		return nil, errors.Sys("Find leak event failed", err)
	}
	if page == nil || len(page.Items) == 0 {
		return nil, nil
	}
	return page.Items[0], nil
}

func (j *LeakJournal) Count(ctx context.Context, start, end int64) (int64, *errors.Error) {
	if start == 0 || end == 0 || start > end {
		return 0, errors.Verify("invalid time range")
	}
	count, err := j.storage.Count(map[string]any{
		"at": map[string]any{"$gte": start, "$lte": end},
	})
	if err != nil {
		logger.Error(ctx, "Count leak event failed", zap.Error(err))
		return 0, errors.Sys("Count leak event failed", err)
	}
	return count, nil
}

func (j *LeakJournal) Page(ctx context.Context, start, end, page, size int64) (*cache.PageCache[LeakEvent], *errors.Error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 10
	}
	cond, e := timeRange(start, end)
	if e != nil {
		return nil, e
	}
	items, err := j.storage.Find(page, size, cond, cache.PageSorterDesc("at"))
	if err != nil {
		logger.Error(ctx, "Find leak page failed", zap.Error(err))
		return nil, errors.Sys("Find leak page failed", err)
	}
	return items, nil
}

func timeRange(start, end int64) (map[string]any, *errors.Error) {
	if start <= 0 && end <= 0 {
		return nil, nil
	}
	if start > 0 && end > 0 && start > end {
		return nil, errors.Verify("invalid time range")
	}
	at := map[string]any{}
	if start > 0 {
		at["$gte"] = start
	}
	if end > 0 {
		at["$lte"] = end
	}
	return map[string]any{"at": at}, nil
}

func (j *LeakJournal) prune(ctx context.Context) {
	page, err := j.storage.Find(1, j.keep, nil, cache.PageSorterDesc("at"))
	if err != nil {
		logger.Error(ctx, "Find leak events failed", zap.Error(err))
		return
	}
	if page == nil || page.Total <= j.keep || len(page.Items) == 0 {
		return
	}
	cutoff := page.Items[len(page.Items)-1].At
	if cutoff == 0 {
		return
	}
	if err := j.storage.Delete(map[string]any{"at": map[string]any{"$lt": cutoff}}); err != nil {
		logger.Error(ctx, "Delete old leak events failed", zap.Error(err))
	}
}
