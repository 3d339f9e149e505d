package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// Watcher re-reads a config file on a fixed interval. When the bytes on disk
// change and still form a valid config, it swaps the current config and calls
// the change callback. A broken edit is logged and the last good config stays.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu   sync.Mutex
	snap snapshot

	cancel context.CancelFunc
	exited chan struct{}
}

// snapshot is the last file state that parsed successfully.
type snapshot struct {
	cfg   *Config
	raw   []byte
	mtime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is checked. Defaults to 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher reads path once and fails if it is missing or invalid. It then
// checks the file in the background until [Watcher.Stop].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.snap = snap

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.loop(ctx)
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap.cfg
}

// Stop ends the background checks and waits for them to finish. Calling it
// again is a no-op.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.exited
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.exited)
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.reload()
		}
	}
}

// reload swaps in the file's config when the mtime moved and the bytes
// differ. A touch without an edit only records the new mtime.
func (w *Watcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.snap.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	next, err := readSnapshot(w.path)
	if err != nil {
		w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.snap
	w.snap.mtime = next.mtime
	if bytes.Equal(prev.raw, next.raw) {
		w.mu.Unlock()
		return
	}
	w.snap = next
	w.mu.Unlock()

	w.log.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := parse(path, raw)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, raw: raw, mtime: info.ModTime()}, nil
}
