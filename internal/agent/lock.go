package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// LockFile is the run lock's name inside the state directory.
const LockFile = "run.lock"

// ErrLocked is returned when another agent holds the run lock.
var ErrLocked = errors.New("another flacm run is in progress")

// RunLock is a held run lock.
type RunLock struct {
	f *os.File
}

// Lock takes the run lock without blocking.
func (s *State) Lock() (*RunLock, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	path := filepath.Join(s.Dir, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening run lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &RunLock{f: f}, nil
}

// Release drops the lock.
func (l *RunLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}

// Running reports whether some process holds the run lock.
func (s *State) Running() bool {
	f, err := os.Open(filepath.Join(s.Dir, LockFile))
	if err != nil {
		return false
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return errors.Is(err, unix.EWOULDBLOCK)
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false
}

// Status is the agent's externally visible condition.
type Status int

const (
	StatusRunning Status = iota
	StatusNotRunning
	StatusIgnored
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusIgnored:
		return "running, but not active"
	default:
		return "not running"
	}
}

// ExitCode maps a status onto the status command's exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusRunning:
		return 0
	case StatusIgnored:
		return 2
	default:
		return 1
	}
}

// Status reports whether an agent is running and whether it is paused.
func (s *State) Status() Status {
	if !s.Running() {
		return StatusNotRunning
	}
	if s.Ignored() {
		return StatusIgnored
	}
	return StatusRunning
}
