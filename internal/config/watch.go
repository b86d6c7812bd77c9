package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ProfileSource serves the current profile and reloads it when the file
// changes on disk.
type ProfileSource struct {
	path    string
	chat    ChatConfig
	current atomic.Pointer[Profile]
}

// NewProfileSource loads the profile at path (or the defaults when path is
// empty).
func NewProfileSource(path string, chat ChatConfig) (*ProfileSource, error) {
	p, err := LoadProfile(path, chat)
	if err != nil {
		return nil, err
	}
	src := &ProfileSource{path: path, chat: chat}
	src.current.Store(&p)
	return src, nil
}

// Current returns the active profile.
func (s *ProfileSource) Current() Profile {
	return *s.current.Load()
}

// Reload re-reads the file. A broken file keeps the previous profile.
func (s *ProfileSource) Reload() error {
	p, err := LoadProfile(s.path, s.chat)
	if err != nil {
		return err
	}
	s.current.Store(&p)
	return nil
}

// Watch reloads the profile on writes until ctx is done. It watches the
// parent directory so editors that replace the file atomically still trigger
// a reload.
func (s *ProfileSource) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create profile watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch profile dir %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer func() {
			if closeErr := w.Close(); closeErr != nil {
				slog.Debug("failed to close profile watcher", "error", closeErr)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.Reload(); err != nil {
					slog.Warn("Profile reload failed, keeping previous profile", "path", s.path, "error", err)
					continue
				}
				slog.Info("Widget profile reloaded", "path", s.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("Profile watcher error", "error", err)
			}
		}
	}()
	return nil
}
