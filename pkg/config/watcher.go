package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jzx17/voltloop/pkg/types"
)

// DefaultDebounce coalesces the bursts of events editors emit on save
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk
type Watcher struct {
	path     string
	debounce time.Duration
	clock    types.Clock
	logger   types.Logger

	reloadMu sync.Mutex

	mu      sync.Mutex
	current Config
	timer   types.Timer
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for events to settle
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatcherClock sets the clock used for debouncing
func WithWatcherClock(clock types.Clock) WatcherOption {
	return func(w *Watcher) {
		w.clock = clock
	}
}

// WithWatcherLogger sets the logger
func WithWatcherLogger(logger types.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for path. initial is the configuration
// currently in effect and is passed as prev to the first reload.
func NewWatcher(path string, initial Config, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		clock:    types.NewRealClock(),
		logger:   types.NopLogger{},
		current:  initial,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Current returns the last configuration that loaded successfully
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Watch starts watching in the background until ctx is done. onChange receives
// the previous and the new configuration; files that fail to load or validate
// are logged and skipped.
func (w *Watcher) Watch(ctx context.Context, onChange func(prev, next Config) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors often replace the file, so the directory is watched
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	go w.processEvents(ctx, fw, onChange)
	w.logger.Infof("watching %s for configuration changes", w.path)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, fw *fsnotify.Watcher, onChange func(prev, next Config) error) {
	defer func() {
		_ = fw.Close()
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debugf("config file event %s", event.Op)

			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = w.clock.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.reload(onChange)
			})
			w.mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload(onChange func(prev, next Config) error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next, err := Load(w.path)
	if err != nil {
		w.logger.Warnf("ignoring config change: %v", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.mu.Unlock()

	if err := onChange(prev, next); err != nil {
		w.logger.Errorf("failed to apply config change: %v", err)
		return
	}

	w.mu.Lock()
	w.current = next
	w.mu.Unlock()
	w.logger.Infof("configuration reloaded from %s", w.path)
}
