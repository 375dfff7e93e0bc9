package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	appLog "untiscal/internal/log"
)

// Store hands out immutable config snapshots. A request reads one snapshot
// up front and keeps using it even if the file is reloaded meanwhile.
type Store struct {
	path string
	cur  atomic.Pointer[Config]

	// OnReload, if set, is called with each successfully loaded snapshot.
	OnReload func(*Config)
}

// NewStore wraps an already loaded config.
func NewStore(path string, cfg *Config) *Store {
	s := &Store{path: path}
	s.cur.Store(cfg)
	return s
}

// Snapshot returns the current config. Callers must not mutate it.
func (s *Store) Snapshot() *Config {
	return s.cur.Load()
}

// Reload re-reads the file. On error the previous snapshot stays active.
// Unlike Load it never writes: a missing file (e.g. mid-rename by an editor)
// is reported as an error and the current snapshot is kept.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return err
	}
	s.cur.Store(cfg)
	if s.OnReload != nil {
		s.OnReload(cfg)
	}
	return nil
}

// Watch reloads the config whenever the file changes, until ctx is done.
// The parent directory is watched so atomic renames (as done by Save and
// most editors) are picked up.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				appLog.Error("config reload failed; keeping previous config", err, "path", s.path)
				continue
			}
			appLog.Info("config reloaded", "path", s.path, "users", len(s.Snapshot().Users))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Error("config watcher error", err, "path", s.path)
		}
	}
}
