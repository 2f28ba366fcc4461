package objwatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/threshold"
	"github.com/jom-io/gorig/utils/logger"
	"go.uber.org/zap"
)

// ReadThresholdFile parses path with ParseThresholds.
func ReadThresholdFile(path string, base threshold.Config) (threshold.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return threshold.Config{}, err
	}
	return ParseThresholds(raw, base)
}

// WatchThresholdFile applies the file once, then again whenever it is written or
// replaced, until ctx is done. Keys missing from the file fall back to base.
// A file that fails to parse is logged and ignored.
func WatchThresholdFile(ctx context.Context, path string, base threshold.Config, apply func(threshold.Config) error) error {
	path = filepath.Clean(path)
	cfg, err := ReadThresholdFile(path, base)
	if err != nil {
		return err
	}
	if err := apply(cfg); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create watcher: %w", err)
	}
	// The directory is watched so editors that rename over the file are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("unable to add directory to watcher: %w", err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := ReadThresholdFile(path, base)
				if err != nil {
					logger.Warn(ctx, "Ignoring threshold file", zap.String("path", path), zap.Error(err))
					continue
				}
				if err := apply(cfg); err != nil {
					logger.Warn(ctx, "Rejected thresholds from file", zap.String("path", path), zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error(ctx, "Threshold file watcher error", zap.String("path", path), zap.Error(err))
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
