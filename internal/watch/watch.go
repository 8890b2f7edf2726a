// Package watch re-runs an action whenever a single file is saved.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events editors emit on one save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches one file.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *zap.Logger
}

// New creates a watcher for path.
func New(path string, debounce time.Duration, log *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{path: filepath.Clean(path), debounce: debounce, log: log}
}

// Run calls onChange after each settled write to the file until ctx is done.
// The parent directory is watched so editors that replace the file on save
// (write temp, rename) are still seen. onChange errors are logged, not fatal.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.log.Info("watching", zap.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-timer.C:
			w.log.Debug("file changed", zap.String("path", w.path))
			if err := onChange(ctx); err != nil {
				w.log.Error("change handler failed", zap.String("path", w.path), zap.Error(err))
			}
		}
	}
}
