// Package watcher reports edits made to the local storage root by other
// processes, so cached line offsets are dropped and subscribers hear
// about them.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/linestore/internal/sse"
)

// Sink receives settled changes. kind is one of the sse.Kind constants.
// *lineservice.Service implements it.
type Sink interface {
	Notify(ctx context.Context, path, kind string)
}

// Options tunes Watch.
type Options struct {
	// Debounce is the quiet period after the last event before pending
	// paths are flushed. Zero means 200ms.
	Debounce time.Duration
	// Skip excludes root-relative paths, e.g. swap temp files.
	Skip func(rel string) bool
}

// pending accumulates the events seen for one path in a debounce window.
type pending struct {
	created bool
}

// Watch starts an fsnotify watcher on root and feeds settled changes to
// sink until ctx is cancelled.
//
// Events are coalesced per path and resolved against the disk when the
// window closes: a swap commit (remove, then create) settles as a single
// update, and a path that no longer exists settles as a deletion. New
// directories are added to the watch list and their files reported.
func Watch(ctx context.Context, root string, sink Sink, logger *slog.Logger, opts Options) error {
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))

	queue := make(map[string]*pending)
	var (
		flushTimer *time.Timer
		flushCh    <-chan time.Time
	)
	schedule := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(opts.Debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(opts.Debounce)
		}
	}
	enqueue := func(rel string, created bool) {
		if opts.Skip != nil && opts.Skip(rel) {
			return
		}
		// The first event of a window decides created vs updated.
		if _, ok := queue[rel]; !ok {
			queue[rel] = &pending{created: created}
		}
		schedule()
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			for rel, p := range queue {
				settle(ctx, root, rel, p, sink, logger)
			}
			clear(queue)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
						continue
					}
					logger.Debug("watcher: watching new dir", slog.String("path", rel))
					walkFiles(root, ev.Name, func(rel string) { enqueue(rel, true) })
					continue
				}
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				enqueue(rel, true)
			case ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0:
				enqueue(rel, false)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func settle(ctx context.Context, root, rel string, p *pending, sink Sink, logger *slog.Logger) {
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	kind := sse.KindUpdated
	switch {
	case err != nil:
		kind = sse.KindDeleted
	case info.IsDir():
		return
	case p.created:
		kind = sse.KindCreated
	}
	logger.Debug("watcher: change", slog.String("path", rel), slog.String("kind", kind))
	sink.Notify(ctx, rel, kind)
}

// walkFiles calls fn with the root-relative path of every file below dir.
func walkFiles(root, dir string, fn func(rel string)) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, p); relErr == nil {
			fn(filepath.ToSlash(rel))
		}
		return nil
	})
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
