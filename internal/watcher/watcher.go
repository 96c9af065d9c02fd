// Package watcher rescans install directories when spices are added,
// changed or removed outside the installer.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups bursts of events (an unpacked archive, an editor
// save) into a single reload.
const DefaultDebounce = 300 * time.Millisecond

// ReloadFunc is called once per burst of changes under root.
type ReloadFunc func(root string)

// Watch watches every root and the spice directories directly inside it
// until ctx is cancelled. Hidden entries (installer staging dirs) are
// ignored.
func Watch(ctx context.Context, roots []string, debounce time.Duration, logger *slog.Logger, reload ReloadFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, root := range roots {
		if err := addSpiceDirs(w, root); err != nil {
			logger.Warn("watcher: add dir failed", slog.String("root", root), slog.String("error", err.Error()))
		}
	}
	logger.Info("watcher: started", slog.Int("roots", len(roots)))

	pending := map[string]struct{}{}
	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func(root string) {
		pending[root] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			for root := range pending {
				reload(root)
				delete(pending, root)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			root, depth := rootOf(roots, ev.Name)
			if root == "" || hidden(root, ev.Name) {
				continue
			}
			// A new spice dir: watch it so metadata edits are seen.
			if ev.Op&fsnotify.Create != 0 && depth == 1 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(w, ev.Name, 1); err != nil {
						logger.Warn("watcher: add spice dir failed",
							slog.String("path", ev.Name), slog.String("error", err.Error()))
					}
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debug("watcher: change", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
				schedule(root)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

// addSpiceDirs watches root, each spice dir in it and, for themes, their
// cinnamon/ subdir.
func addSpiceDirs(w *fsnotify.Watcher, root string) error {
	if err := w.Add(root); err != nil {
		return err
	}
	items, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, it := range items {
		if strings.HasPrefix(it.Name(), ".") {
			continue
		}
		p := filepath.Join(root, it.Name())
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			_ = addTree(w, p, 1)
		}
	}
	return nil
}

// addTree watches dir and its subdirectories down to depth levels.
func addTree(w *fsnotify.Watcher, dir string, depth int) error {
	if err := w.Add(dir); err != nil {
		return err
	}
	if depth == 0 {
		return nil
	}
	items, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.IsDir() {
			_ = addTree(w, filepath.Join(dir, it.Name()), depth-1)
		}
	}
	return nil
}

// rootOf returns the root containing path and how deep below it path is.
func rootOf(roots []string, path string) (string, int) {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return root, strings.Count(rel, string(os.PathSeparator)) + 1
	}
	return "", 0
}

func hidden(root, path string) bool {
	rel, _ := filepath.Rel(root, path)
	first := strings.SplitN(rel, string(os.PathSeparator), 2)[0]
	return strings.HasPrefix(first, ".")
}
