package registry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher rescans the registry when package files change and publishes the
// resulting changes.
type Watcher struct {
	registry  *Registry
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	logger    *slog.Logger

	changes chan Change
	errors  chan error

	wg sync.WaitGroup
}

// NewWatcher watches the registry directory and each package directory in it.
func NewWatcher(r *Registry, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		registry:  r,
		fsWatcher: fsWatcher,
		debounce:  debounce,
		logger:    logger,
		changes:   make(chan Change, 16),
		errors:    make(chan error, 4),
	}, nil
}

// Changes returns the channel of package changes. It is closed when the
// watcher stops.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.registry.Dir(), 0755); err != nil {
		return err
	}
	if err := w.fsWatcher.Add(w.registry.Dir()); err != nil {
		return err
	}
	w.addPackageDirs()

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Wait blocks until the watch loop has exited.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) addPackageDirs() {
	entries, err := os.ReadDir(w.registry.Dir())
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = w.fsWatcher.Add(filepath.Join(w.registry.Dir(), e.Name()))
		}
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.changes)
	defer w.fsWatcher.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.fsWatcher.Add(event.Name)
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.rescan(ctx)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) rescan(ctx context.Context) {
	changes, err := w.registry.Refresh(ctx)
	if err != nil {
		w.report(err)
	}
	for _, c := range changes {
		select {
		case w.changes <- c:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) report(err error) {
	w.logger.Warn("registry watch error", "error", err)
	select {
	case w.errors <- err:
	default:
	}
}
