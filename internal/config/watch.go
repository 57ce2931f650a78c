package config

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"

	appLog "campuscal/internal/log"
)

// Holder keeps the current configuration behind a read lock so HTTP
// handlers always observe a consistent snapshot while the file watcher
// swaps in reloaded configs.
type Holder struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewHolder wraps an already-loaded config.
func NewHolder(cfg *Config) *Holder {
	return &Holder{cfg: cfg}
}

// Current returns the active configuration snapshot.
func (h *Holder) Current() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *Holder) swap(cfg *Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// Watch reloads the config file into the holder whenever it is rewritten.
// It blocks until ctx is cancelled; run it in its own goroutine. A reload
// that fails to parse is logged and skipped, keeping the previous snapshot.
func Watch(ctx context.Context, path string, holder *Holder) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	appLog.Info("config watch started", "path", path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors and our own atomic Save rename over the target, so
			// react to Create as well as Write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				appLog.Error("config reload failed; keeping previous", err, "path", path)
				continue
			}
			holder.swap(cfg)
			appLog.Info("config reloaded", "path", path)

			// A rename replaces the inode; re-add the path so subsequent
			// saves keep being observed.
			if event.Has(fsnotify.Create) {
				_ = watcher.Add(path)
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			appLog.Error("config watch error", werr, "path", path)
		}
	}
}
