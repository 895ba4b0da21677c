// Package watcher reloads the serving index snapshot when a new build is committed.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 400 * time.Millisecond
	currentFile     = "CURRENT"
)

// ReloadFunc loads and publishes the committed build. It reports whether the serving
// snapshot changed.
type ReloadFunc func() (bool, error)

// Reloader watches an index root and calls its ReloadFunc after CURRENT is replaced.
type Reloader struct {
	root     string
	reload   ReloadFunc
	debounce time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger
}

// Option configures a Reloader.
type Option func(*Reloader)

// WithLogger sets a logger for reload events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reloader) { r.logger = l }
}

// WithDebounce sets how long to wait after the last change before reloading.
func WithDebounce(d time.Duration) Option {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// NewReloader creates a reloader for the index at root.
func NewReloader(root string, reload ReloadFunc, opts ...Option) *Reloader {
	r := &Reloader{
		root:     filepath.Clean(root),
		reload:   reload,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins watching. The index root is created if missing. It runs until ctx is
// cancelled or Stop is called.
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(r.root, 0755); err != nil {
		r.mu.Unlock()
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	// CURRENT is replaced by rename, so watch the directory rather than the file.
	if err := w.Add(r.root); err != nil {
		_ = w.Close()
		r.mu.Unlock()
		return err
	}
	r.watcher = w
	r.started = true
	r.mu.Unlock()

	r.logger.Debug("reloader watching index root", zap.String("root", r.root))
	go r.run(ctx, w)
	return nil
}

func (r *Reloader) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return
		case <-r.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			r.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err != nil {
				r.logger.Warn("reloader watch error", zap.Error(err))
			}
		}
	}
}

func (r *Reloader) handleEvent(ev fsnotify.Event) {
	if filepath.Base(ev.Name) != currentFile {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	r.logger.Debug("reloader event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	r.schedule()
}

func (r *Reloader) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, r.fire)
}

func (r *Reloader) fire() {
	r.mu.Lock()
	r.timer = nil
	active := r.started
	r.mu.Unlock()
	if !active {
		return
	}
	swapped, err := r.reload()
	if err != nil {
		r.logger.Error("snapshot reload failed, keeping current snapshot", zap.Error(err))
		return
	}
	if swapped {
		r.logger.Info("snapshot reloaded", zap.String("root", r.root))
	}
}

// Stop stops watching and cancels any pending reload.
func (r *Reloader) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	_ = r.watcher.Close()
	r.watcher = nil
	r.started = false
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.done) })
}
