package proxy

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchConfigFile watches the config file at path and calls apply with the
// re-parsed file after each change, until ctx is cancelled. The parent
// directory is watched because editors and config mounts replace the file by
// rename rather than writing in place.
func WatchConfigFile(ctx context.Context, path string, logger *zap.Logger, apply func(*FileConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(path)

	go func() {
		defer watcher.Close()

		// Debounce bursts of events from a single save.
		var pending *time.Timer
		fire := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})

			case <-fire:
				fc, err := LoadConfigFile(path)
				if err != nil {
					logger.Warn("config reload failed, keeping previous config", zap.Error(err))
					continue
				}
				logger.Info("config file reloaded", zap.String("path", path))
				apply(fc)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
