package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads the gateway's YAML config from disk and optionally watches
// it for changes, so the active policy set can be hot-reloaded without a
// restart. Every other section (server, storage, router) only takes
// effect on the next process start — only Policies is safe to swap live.
type Loader struct {
	mu     sync.RWMutex
	cfg    *Config
	logger *slog.Logger
	watcher *fsnotify.Watcher
	onReload func(*Config)
}

// NewLoader constructs a Loader holding DefaultConfig until Load is called.
func NewLoader() *Loader {
	return &Loader{
		cfg:    DefaultConfig(),
		logger: slog.Default().With("component", "config.Loader"),
	}
}

// Load parses the YAML file at path and, on success, atomically replaces
// the held config. DefaultConfig values are used as the base so a partial
// file only overrides what it sets.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	return nil
}

// Get returns the currently active config. Safe for concurrent use.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Watch starts an fsnotify watch on path and calls onReload with the
// freshly parsed config every time the file is written. Errors reloading
// are logged and the previously loaded config is kept in place — a
// broken edit never tears down a running gateway.
func (l *Loader) Watch(path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config file %q: %w", path, err)
	}

	l.watcher = watcher
	l.onReload = onReload

	go l.watchLoop(path)
	return nil
}

func (l *Loader) watchLoop(path string) {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.Load(path); err != nil {
				l.logger.Error("config reload failed, keeping previous config", "path", path, "error", err)
				continue
			}
			l.logger.Info("config reloaded", "path", path)
			if l.onReload != nil {
				l.onReload(l.Get())
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("config watcher error", "error", err)
		}
	}
}

// StopWatch closes the underlying fsnotify watcher, if one was started.
func (l *Loader) StopWatch() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}
