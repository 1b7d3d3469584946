// Package command runs external processes and streams their combined
// output into the logger one line at a time.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ExitError reports a process that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%q exited with status %d", e.Command, e.Code)
}

// Runner executes a command. Transports and the script runner take a Runner
// so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// Exec is the Runner backed by os/exec.
type Exec struct {
	Log zerolog.Logger
}

// Run starts name with args in dir (empty means the current directory),
// logs every output line at debug level, and waits for it to finish.
// A non-zero exit is returned as *ExitError.
func (e Exec) Run(ctx context.Context, dir, name string, args ...string) error {
	cmdline := strings.Join(append([]string{name}, args...), " ")
	e.Log.Debug().Str("command", cmdline).Msg("executing")

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return fmt.Errorf("starting %s: %w", name, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		waitErr <- err
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		e.Log.Debug().Str("command", name).Msg(scanner.Text())
	}
	// Drain anything the scanner refused so Wait is never blocked on the pipe.
	_, _ = io.Copy(io.Discard, pr)

	err := <-waitErr
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: cmdline, Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("running %s: %w", name, err)
}
