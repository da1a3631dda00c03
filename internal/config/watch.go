package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "digestbot/pkg/logx"
)

// debounceDelay lets editors finish multi-event saves before a reload.
const debounceDelay = 300 * time.Millisecond

// Watcher reloads the config file on change and hands validated snapshots to
// an OnChange callback. Invalid or unchanged content is ignored, keeping the
// last good config in effect.
type Watcher struct {
	path     string
	log      logx.Logger
	onChange func(*Config)

	mu       sync.Mutex
	lastHash uint64
}

func NewWatcher(path string, log logx.Logger, onChange func(*Config)) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{path: path, log: log, onChange: onChange}
}

// Run watches until ctx is done. The initial load is the caller's job; Run
// only reacts to subsequent writes.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Watch the directory, not the file: editors often replace the file
	// (rename + create), which drops a file-level watch.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	var timer *time.Timer
	var timerMu sync.Mutex
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, w.reload)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config.watch_error", logx.Err(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// Keep running on the previous config.
		w.log.Error("config.reload_rejected", logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	w.mu.Lock()
	unchanged := h != 0 && h == w.lastHash
	w.lastHash = h
	w.mu.Unlock()
	if unchanged {
		return
	}

	w.log.Info("config.reloaded", logx.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Prime records the hash of the initially loaded config so an identical
// rewrite doesn't trigger a spurious change notification.
func (w *Watcher) Prime(cfg *Config) {
	w.mu.Lock()
	w.lastHash = hashConfig(cfg)
	w.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
