package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Wait blocks until interval elapses, the ignore or reboot file is
// created or removed, or ctx is done. It reports whether a control file
// changed. The watcher is best effort: when it cannot be set up Wait
// degrades to a plain sleep.
func (s *State) Wait(ctx context.Context, interval time.Duration) (bool, error) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	watcher, err := s.watch()
	if err != nil {
		s.Log.Warn().Err(err).Msg("cannot watch state files; sleeping instead")
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, nil
		}
	}
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return false, nil
			}
			if s.isControlFile(ev.Name) && ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.Log.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("control file changed")
				return true, nil
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return false, nil
			}
			s.Log.Warn().Err(werr).Msg("state watcher error")
		}
	}
}

func (s *State) watch() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	seen := make(map[string]bool)
	for _, f := range []string{s.IgnoreFile, s.RebootFile} {
		if f == "" {
			continue
		}
		dir := filepath.Dir(f)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	return watcher, nil
}

func (s *State) isControlFile(name string) bool {
	name = filepath.Clean(name)
	return name == filepath.Clean(s.IgnoreFile) || name == filepath.Clean(s.RebootFile)
}
