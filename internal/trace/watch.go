package trace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch rebuilds the matrix whenever the cases tree changes, coalescing
// bursts of events into one build per debounce window. It blocks until ctx
// is cancelled.
func (b *Builder) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := addDirs(w, b.cfg.CasesDir); err != nil {
		return err
	}

	if _, err := b.Build(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// New directories need their own watch before files land
			// in them.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addDirs(w, ev.Name); err != nil {
						b.logger.Warn("failed to watch new directory",
							zap.String("dir", ev.Name), zap.Error(err))
					}
				}
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			if _, err := b.Build(ctx); err != nil {
				b.logger.Error("rebuild failed", zap.Error(err))
			}
		}
	}
}

func addDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
		return nil
	})
}
