package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Live holds the active config and allows it to be swapped while requests are in flight.
type Live struct {
	p atomic.Pointer[Config]
}

func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.Store(cfg)
	return l
}

// Load returns the current config; nil-safe.
func (l *Live) Load() *Config {
	if l == nil {
		return nil
	}
	return l.p.Load()
}

func (l *Live) Store(cfg *Config) { l.p.Store(cfg) }

// Watch re-reads path whenever it is written and stores valid configs into l.
// Invalid files are logged and leave the previous config in place.
// It blocks until ctx is done.
func Watch(ctx context.Context, path string, l *Live, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// editors often replace the file, so watch the directory
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := FromFile(path)
			if err != nil {
				logger.Warn("config reload rejected", "path", path, "err", err)
				continue
			}
			if cur := l.Load(); cur != nil && cur.Org.ID != "" && cfg.Org.ID != cur.Org.ID {
				logger.Warn("config reload rejected", "path", path, "err", "org id changed")
				continue
			}
			l.Store(cfg)
			logger.Info("config reloaded", "path", path, "transitions", cfg.Workflow.Transitions)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "err", err)
		}
	}
}
