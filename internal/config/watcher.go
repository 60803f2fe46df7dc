package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a config file for changes using fsnotify and calls a
// callback whenever the file is rewritten with valid content that differs
// from the current config.
//
// The reconciliation service treats the entity strategy registry as
// read-only after initialization: Watcher never
// hot-swaps providers or entity descriptors into a running [Registry]. Its
// callback is informational — it reports that the on-disk config changed
// and, via [ConfigDiff], which top-level sections differ, so an operator or
// supervisor process can decide whether a restart is warranted.
type Watcher struct {
	path     string
	onChange func(old, new *Config, diff ConfigDiff)

	mu      sync.Mutex
	current *Config

	watcher *fsnotify.Watcher
	done    chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts watching path in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Config, diff ConfigDiff)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create fsnotify watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		current:  cfg,
		watcher:  fw,
		done:     make(chan struct{}),
	}

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher and releases its fsnotify handle.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// run processes fsnotify events until Stop is called.
func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher: fsnotify error", "path", w.path, "err", err)
		}
	}
}

// reload re-parses the config file and, if it is valid and different from
// the current config, updates Current and invokes onChange.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config watcher: failed to load config, keeping previous", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	diff := Diff(old, cfg)
	if !diff.Changed() {
		w.mu.Unlock()
		return
	}
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path, "registry_affecting", diff.RegistryAffecting())
	if diff.RegistryAffecting() {
		slog.Warn("config watcher: provider or entity registry fields changed; a process restart is required to apply them")
	}

	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
}
