package reconcile

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 200 * time.Millisecond

// Watch runs a repairing pass whenever a document under dir changes on disk
// and returns when ctx is cancelled. Bursts of events are debounced into one
// pass. Directories created at runtime are added to the watch list.
//
// Only the local document store has a directory to watch.
func (r *Reconciler) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, dir); err != nil {
		return err
	}
	slog.Info("watcher: started", slog.String("root", dir))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
			return
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Info("watcher: stopped")
			return nil

		case <-fire:
			timer, fire = nil, nil
			if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("watcher: pass failed", slog.Any("err", err))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if err := addDirsRecursive(w, ev.Name); err != nil {
						slog.Warn("watcher: add new dir failed", slog.String("path", ev.Name), slog.Any("err", err))
					}
					schedule()
					continue
				}
			}
			if !strings.HasSuffix(ev.Name, ".md") || ev.Op == fsnotify.Chmod {
				continue
			}
			slog.Debug("watcher: change", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("watcher: error", slog.Any("err", watchErr))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
