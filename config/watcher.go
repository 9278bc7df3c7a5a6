package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collects rapid successive writes before reloading.
const watchDebounce = 500 * time.Millisecond

// Watcher reloads the configuration when the underlying file changes.
// Only tunables that are safe to change at runtime are propagated; callers
// receive the full reloaded Config and decide what to apply.
type Watcher struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	onLoad  func(*Config)

	mu      sync.Mutex
	stopped bool
}

// NewWatcher creates a watcher for the given config file. onLoad is invoked
// with every successfully reloaded and validated config.
func NewWatcher(path string, logger *slog.Logger, onLoad func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:    path,
		logger:  logger,
		watcher: fsw,
		onLoad:  onLoad,
	}, nil
}

// Start begins watching until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerC = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watch error", slog.String("error", err.Error()))
		case <-timerC:
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("Reloaded config invalid, keeping previous", slog.String("error", err.Error()))
		return
	}
	w.logger.Info("Config reloaded", slog.String("path", w.path))
	if w.onLoad != nil {
		w.onLoad(cfg)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	return w.watcher.Close()
}
