package source

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/previewd/internal/errors"
	"git.home.luguber.info/inful/previewd/internal/logfields"
	"git.home.luguber.info/inful/previewd/internal/observability"
)

// Watcher monitors a project directory recursively and emits a debounced
// signal after changes settle. The signal carries no paths: the consumer
// reloads the whole file set and lets fingerprinting decide what to do.
type Watcher struct {
	root     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan struct{}
	stop     chan struct{}
}

// NewWatcher builds a recursive watcher over root.
func NewWatcher(root string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.SourceError(root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		fsw.Close()
		return nil, errors.SourceError(root, err)
	}
	return &Watcher{
		root:     abs,
		debounce: debounce,
		watcher:  fsw,
		changes:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Changes emits once per settled burst of filesystem events.
func (w *Watcher) Changes() <-chan struct{} { return w.changes }

// Start registers all current subdirectories and begins the event loop.
// fsnotify is not recursive, so directories created later are added as their
// create events arrive.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	observability.InfoContext(ctx, "watching source directory", logfields.Path(w.root))
	go w.loop(ctx)
	return nil
}

// Stop ends the event loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	close(w.stop)
	w.watcher.Close()
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir && (skipDirs[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return errors.SourceError(path, err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.ignore(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				// New directories must be registered to keep recursion alive.
				if err := w.addRecursive(event.Name); err != nil {
					slog.Debug("watch add failed", "path", event.Name, "error", err)
				}
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.signal)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("source watcher error", "error", err)
		}
	}
}

// signal notifies without blocking: a pending change signal already covers
// this burst.
func (w *Watcher) signal() {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

func (w *Watcher) ignore(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}
