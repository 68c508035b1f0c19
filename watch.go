package apphost

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher turns filesystem events under the app directory into
// reconciliation triggers. Events are debounced so a burst of writes (an
// editor save, a deploy sync) causes one cycle, not one per file. The
// mtime-based scans inside the cycle remain the source of truth; the
// watcher only decides when a cycle is worth running.
type DirWatcher struct {
	appDir   string
	watcher  *fsnotify.Watcher
	trigger  func()
	debounce time.Duration
	logger   Logger

	done     chan struct{}
	stopOnce sync.Once
}

// DefaultDebounceWindow is how long the watcher waits for further events
// before triggering a cycle.
const DefaultDebounceWindow = 250 * time.Millisecond

// NewDirWatcher creates a watcher over appDir that calls trigger after each
// debounced burst of events. A non-positive debounce uses
// DefaultDebounceWindow.
func NewDirWatcher(appDir string, debounce time.Duration, trigger func(), logger Logger) (*DirWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DirWatcher{
		appDir:   appDir,
		watcher:  watcher,
		trigger:  trigger,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start registers the directory tree and begins processing events until the
// context is cancelled or Stop is called. New subdirectories are added to
// the watch as they appear.
func (w *DirWatcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.appDir); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop shuts the watcher down. Idempotent.
func (w *DirWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if err := w.watcher.Close(); err != nil {
			w.logger.Debug("Error closing directory watcher", "error", err)
		}
	})
}

func (w *DirWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				// A new directory must join the watch before events under
				// it can be seen.
				if err := w.addRecursive(event.Name); err != nil {
					w.logger.Debug("Unable to watch new path", "path", event.Name, "error", err)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Directory watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.trigger()
		}
	}
}

// addRecursive watches path and every directory beneath it, skipping
// excluded and artifact directories. Non-directories are ignored.
func (w *DirWatcher) addRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.appDir && isArtifactDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			w.logger.Debug("Unable to watch directory", "dir", p, "error", err)
		}
		return nil
	})
}
