package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Hot-reloadable fields are the subset of Config that Watcher applies
// without requiring a process restart, matching SPEC_FULL §10.3.
type Hot struct {
	Channels ChannelsConfig
	LogLevel string
}

func hotOf(cfg *Config) Hot {
	return Hot{Channels: cfg.Channels, LogLevel: cfg.Observability.LogLevel}
}

// Watcher reloads the config file on change and notifies subscribers of the
// hot-reloadable subset, grounded on internal/skills/manager.go's
// fsnotify-based debounced refresh loop.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	current *Config

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	subsMu sync.Mutex
	subs   []chan Hot
}

// NewWatcher loads path once and returns a Watcher ready to Start.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		debounce: 300 * time.Millisecond,
		logger:   logger,
		current:  cfg,
	}, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe returns a channel that receives the hot-reloadable fields
// whenever the config file changes and reloads successfully.
func (w *Watcher) Subscribe() <-chan Hot {
	ch := make(chan Hot, 1)
	w.subsMu.Lock()
	w.subs = append(w.subs, ch)
	w.subsMu.Unlock()
	return ch
}

// Start begins watching the config file for changes. A no-op if path is
// empty (nothing to watch).
func (w *Watcher) Start(ctx context.Context) error {
	if w.path == "" {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.path); err != nil {
		fsw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fsw
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = cfg
	w.mu.Unlock()

	if prev != nil && hotOf(prev) == hotOf(cfg) {
		return
	}

	w.logger.Info("config reloaded", "path", w.path)
	hot := hotOf(cfg)
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- hot:
		default:
		}
	}
}
