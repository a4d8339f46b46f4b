package seed

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads path on every write and calls onChange with the parsed
// file. A file that fails to parse is logged and skipped, so the previous
// configuration stays active. Watch runs until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(*Monitor)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	logger.Info("monitor_file_watching", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// editors often save by rename, which shows up as Create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			m, err := Load(path)
			if err != nil {
				logger.Error("monitor_file_reload_failed", zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("monitor_file_reloaded", zap.String("path", path))
			onChange(m)

			// the inode may have been replaced
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("monitor_file_watch_error", zap.Error(err))
		}
	}
}
