package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newState(t *testing.T) *State {
	t.Helper()
	dir := t.TempDir()
	return &State{
		Dir:        dir,
		IgnoreFile: filepath.Join(dir, "ignore"),
		RebootFile: filepath.Join(dir, "reboot"),
		Log:        zerolog.Nop(),
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestStopStart(t *testing.T) {
	s := newState(t)
	if s.Ignored() {
		t.Fatal("fresh state should not be ignored")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !s.Ignored() {
		t.Error("Stop did not create the ignore file")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Ignored() {
		t.Error("Start did not remove the ignore file")
	}
	if err := s.Start(); err != nil {
		t.Errorf("Start without ignore file: %v", err)
	}
}

func TestCheckRebootConsumesRebootFile(t *testing.T) {
	s := newState(t)
	os.WriteFile(s.RebootFile, nil, 0644)

	if err := s.CheckReboot(); !errors.Is(err, ErrReboot) {
		t.Fatalf("CheckReboot = %v, want ErrReboot", err)
	}
	if exists(s.RebootFile) {
		t.Error("reboot file not removed")
	}
	if err := s.CheckReboot(); err != nil {
		t.Errorf("second CheckReboot = %v", err)
	}
}

func TestCheckRebootInterval(t *testing.T) {
	s := newState(t)
	s.RebootInterval = time.Hour
	now := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	marker := filepath.Join(s.Dir, startFile)

	if err := s.CheckReboot(); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if !exists(marker) {
		t.Fatal("start marker not written")
	}

	now = now.Add(30 * time.Minute)
	if err := s.CheckReboot(); err != nil || exists(s.RebootFile) {
		t.Fatalf("reboot scheduled too early: %v", err)
	}

	now = now.Add(time.Hour)
	if err := s.CheckReboot(); err != nil {
		t.Fatalf("interval pass: %v", err)
	}
	if !exists(s.RebootFile) || exists(marker) {
		t.Fatal("expected reboot file and no start marker")
	}

	if err := s.CheckReboot(); !errors.Is(err, ErrReboot) {
		t.Errorf("next pass = %v, want ErrReboot", err)
	}
}

func TestCheckRebootDisabled(t *testing.T) {
	s := newState(t)
	if err := s.CheckReboot(); err != nil {
		t.Fatal(err)
	}
	if exists(filepath.Join(s.Dir, startFile)) {
		t.Error("start marker written with reboot interval disabled")
	}
}

func TestLockExclusive(t *testing.T) {
	s := newState(t)
	if s.Running() {
		t.Fatal("no lock held yet")
	}

	l, err := s.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := s.Lock(); !errors.Is(err, ErrLocked) {
		t.Errorf("second Lock = %v, want ErrLocked", err)
	}
	if !s.Running() {
		t.Error("Running should see the held lock")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if s.Running() {
		t.Error("Running after Release")
	}
	l2, err := s.Lock()
	if err != nil {
		t.Fatalf("Lock after Release: %v", err)
	}
	l2.Release()
}

func TestStatus(t *testing.T) {
	s := newState(t)
	if got := s.Status(); got != StatusNotRunning || got.ExitCode() != 1 {
		t.Errorf("idle status = %v", got)
	}

	l, err := s.Lock()
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()
	if got := s.Status(); got != StatusRunning || got.ExitCode() != 0 {
		t.Errorf("running status = %v", got)
	}

	s.Stop()
	if got := s.Status(); got != StatusIgnored || got.ExitCode() != 2 {
		t.Errorf("ignored status = %v", got)
	}
}

func TestWaitTimesOut(t *testing.T) {
	s := newState(t)
	changed, err := s.Wait(context.Background(), 20*time.Millisecond)
	if err != nil || changed {
		t.Errorf("Wait = %v, %v", changed, err)
	}
}

func TestWaitWakesOnIgnoreFile(t *testing.T) {
	s := newState(t)
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Stop()
	}()
	changed, err := s.Wait(context.Background(), 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("Wait should report the control file change")
	}
}

func TestWaitCancelled(t *testing.T) {
	s := newState(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Wait(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}
