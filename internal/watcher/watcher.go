// Package watcher observes the managed storage directories with fsnotify
// and reports files removed behind the store's back, so derived caches can
// be re-derived and the damage logged.
package watcher

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the managed directories and invokes onRemove for files
// that disappear outside the document service.
type Watcher struct {
	dirs     []string
	onRemove func(path string)
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// New creates a watcher over dirs. onRemove is called for every removed file.
func New(dirs []string, onRemove func(path string), logger *zap.Logger) *Watcher {
	return &Watcher{
		dirs:     dirs,
		onRemove: onRemove,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	for _, dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			w.mu.Unlock()
			return err
		}
	}
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.logger.Warn("managed file removed externally", zap.String("path", ev.Name))
				if w.onRemove != nil {
					w.onRemove(ev.Name)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.mu.Unlock()
	})
}
