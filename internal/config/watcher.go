package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrUnchanged is returned by [Watcher.Reload] when the file content is the
// same as the last loaded version.
var ErrUnchanged = errors.New("config: file unchanged")

// ReloadFunc receives what changed and the config now in effect. It is only
// called when the diff is not empty.
type ReloadFunc func(d ConfigDiff, next *Config)

// Watcher keeps the config file in effect. It polls the file and applies a
// reload whenever the content changes to another valid config; [Watcher.Reload]
// forces the same check, for example on SIGHUP. Reloaded configs get the same
// environment overrides and defaults as [Load].
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	// reloadMu serialises checks from the poll loop and Reload.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    fileStamp

	done     chan struct{}
	stopOnce sync.Once
}

// fileStamp identifies one version of the config file.
type fileStamp struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds. A
// negative interval disables polling; only [Watcher.Reload] applies changes.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d != 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = stamp

	if w.interval > 0 {
		go w.poll()
	}
	return w, nil
}

// Current returns the config in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Reload reads the file now. It returns the applied diff, [ErrUnchanged] when
// the content did not change, or the load error when the new file is invalid,
// in which case the previous config stays in effect.
func (w *Watcher) Reload() (ConfigDiff, error) {
	return w.apply(true)
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := w.apply(false); err != nil && !errors.Is(err, ErrUnchanged) {
				slog.Warn("config reload failed, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// apply loads the file if it looks different from the last version and
// publishes the diff. Unless forced, an unchanged modification time and size
// skip reading the file.
func (w *Watcher) apply(force bool) (ConfigDiff, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	w.mu.Lock()
	prev, seen := w.current, w.seen
	w.mu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return ConfigDiff{}, err
		}
		if info.ModTime().Equal(seen.modTime) && info.Size() == seen.size {
			return ConfigDiff{}, ErrUnchanged
		}
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return ConfigDiff{}, err
	}

	w.mu.Lock()
	w.seen = stamp
	if stamp.sum == seen.sum {
		w.mu.Unlock()
		return ConfigDiff{}, ErrUnchanged
	}
	w.current = cfg
	w.mu.Unlock()

	d := Diff(prev, cfg)
	slog.Info("config reloaded", "path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"generation_changed", d.GenerationChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onReload != nil && !d.Empty() {
		w.onReload(d, cfg)
	}
	return d, nil
}

// read loads and validates the file and stamps the bytes it parsed.
func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := decodeBytes(data)
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
