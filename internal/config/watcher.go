package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"
)

// LiveSettings receives the configuration values that take effect without a
// restart. The running application implements it.
type LiveSettings interface {
	SetLogLevel(LogLevel)
	SetStoreTTL(time.Duration)
}

// Watcher reloads the config file and pushes the live sections (log level
// and store TTL) to a [LiveSettings] target. Changes to any other section are
// tracked against the config the process started with and reported by
// [Watcher.PendingRestart].
type Watcher struct {
	path     string
	interval time.Duration
	target   LiveSettings

	mu      sync.Mutex
	started *Config
	current *Config
	mtime   time.Time
	hash    [sha256.Size]byte
	pending []string
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path as the startup baseline. Nothing is
// pushed to target until the file changes.
func NewWatcher(path string, target LiveSettings, opts ...WatcherOption) (*Watcher, error) {
	if target == nil {
		return nil, fmt.Errorf("config: watcher needs a live settings target")
	}
	w := &Watcher{path: path, interval: 5 * time.Second, target: target}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	if snap.cfg == nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", snap.err)
	}
	w.started, w.current = snap.cfg, snap.cfg
	w.mtime, w.hash = snap.mtime, snap.hash
	return w, nil
}

// Run polls the file until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload rejected, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload checks the file once. It returns the difference to the previously
// applied config, which is empty when the file is unchanged. An invalid file
// leaves the current config in place and returns the validation error.
func (w *Watcher) Reload() (ConfigDiff, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return ConfigDiff{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if info.ModTime().Equal(w.mtime) {
		return ConfigDiff{}, nil
	}
	snap, err := readSnapshot(w.path)
	if err != nil {
		return ConfigDiff{}, err
	}
	w.mtime = snap.mtime
	if snap.hash == w.hash {
		return ConfigDiff{}, nil
	}
	if snap.err != nil {
		return ConfigDiff{}, snap.err
	}
	w.hash = snap.hash

	d := Diff(w.current, snap.cfg)
	w.current = snap.cfg

	if d.LogLevelChanged {
		w.target.SetLogLevel(d.NewLogLevel)
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.StoreTTLChanged {
		w.target.SetStoreTTL(d.NewStoreTTL)
		slog.Info("store ttl changed", "ttl", d.NewStoreTTL)
	}

	pending := Diff(w.started, snap.cfg).RestartRequired
	if len(pending) > 0 && !slices.Equal(pending, w.pending) {
		slog.Warn("config changes need a restart to take effect", "sections", pending)
	}
	w.pending = pending
	return d, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// PendingRestart lists the sections that differ from the config the process
// started with and therefore only apply after a restart. Reverting a section
// in the file removes it from the list.
func (w *Watcher) PendingRestart() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.pending)
}

type snapshot struct {
	cfg   *Config
	err   error
	hash  [sha256.Size]byte
	mtime time.Time
}

// readSnapshot reads path once. A parse or validation failure is reported in
// snapshot.err so the hash of the rejected content is still known.
func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	s := snapshot{hash: sha256.Sum256(data), mtime: info.ModTime()}
	s.cfg, s.err = LoadFromReader(bytes.NewReader(data))
	return s, nil
}
