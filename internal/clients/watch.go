package clients

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry whenever the file at path is written or
// replaced. It blocks until ctx is cancelled. A file that fails to
// validate is logged and ignored; the previous clients stay in effect.
//
// The parent directory is watched rather than the file so that a file
// replaced by rename is still picked up.
func (r *Registry) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != path {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if err := r.Reload(path); err != nil {
				logger.Error("client registry reload failed, keeping previous clients",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)

				continue
			}

			logger.Info("client registry reloaded",
				slog.String("path", path),
				slog.Int("clients", r.Len()),
			)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			logger.Warn("client registry watcher error", slog.String("error", err.Error()))
		}
	}
}
