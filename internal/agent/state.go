// Package agent holds the on-host control state of the agent: the ignore
// file that pauses it, the reboot file that hands control back to the
// bootstrap, the run lock, and the daemon's wait between passes.
package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ErrReboot asks the caller to exit with status 1 so the bootstrap can
// start a fresh agent.
var ErrReboot = errors.New("reboot requested")

// startFile marks when the current agent instance started.
const startFile = ".starttime"

// State locates the control files.
type State struct {
	Dir            string
	IgnoreFile     string
	RebootFile     string
	RebootInterval time.Duration
	Log            zerolog.Logger

	now func() time.Time
}

func (s *State) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Ignored reports whether the ignore file is present.
func (s *State) Ignored() bool {
	_, err := os.Stat(s.IgnoreFile)
	return err == nil
}

// Stop pauses the agent by touching the ignore file.
func (s *State) Stop() error {
	if err := os.MkdirAll(filepath.Dir(s.IgnoreFile), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(s.IgnoreFile), err)
	}
	f, err := os.OpenFile(s.IgnoreFile, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("creating ignore file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	now := s.clock()
	return os.Chtimes(s.IgnoreFile, now, now)
}

// Start resumes the agent by removing the ignore file.
func (s *State) Start() error {
	if err := os.Remove(s.IgnoreFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing ignore file: %w", err)
	}
	return nil
}

// CheckReboot decides whether this agent instance has run long enough.
// A present reboot file is consumed and ErrReboot returned. Otherwise,
// once the start marker is older than RebootInterval, the reboot file is
// written so that the next pass returns ErrReboot. A zero interval
// disables the age check.
func (s *State) CheckReboot() error {
	if _, err := os.Stat(s.RebootFile); err == nil {
		if err := os.Remove(s.RebootFile); err != nil {
			return fmt.Errorf("removing reboot file: %w", err)
		}
		return ErrReboot
	}
	if s.RebootInterval <= 0 {
		return nil
	}

	marker := filepath.Join(s.Dir, startFile)
	fi, err := os.Stat(marker)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(s.Dir, 0755); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
		if err := touch(marker, s.clock()); err != nil {
			return fmt.Errorf("writing start marker: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("checking start marker: %w", err)
	}

	if s.clock().Sub(fi.ModTime()) <= s.RebootInterval {
		return nil
	}
	s.Log.Info().Dur("interval", s.RebootInterval).Msg("reboot interval reached; scheduling reboot")
	if err := touch(s.RebootFile, s.clock()); err != nil {
		return fmt.Errorf("writing reboot file: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		return fmt.Errorf("removing start marker: %w", err)
	}
	return nil
}

func touch(path string, t time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chtimes(path, t, t)
}
