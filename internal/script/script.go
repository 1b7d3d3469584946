// Package script runs the operator hooks shipped with a role
// (scripts/pre, scripts/fix and scripts/post).
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"

	"github.com/bianoble/flacm/internal/command"
)

// ErrNoScript is returned when the script exists at neither lookup path.
var ErrNoScript = errors.New("no such script")

// FailedScriptError reports a script that exited non-zero when the caller
// asked for failures to be fatal.
type FailedScriptError struct {
	Script string
	Err    error
}

func (e *FailedScriptError) Error() string {
	return fmt.Sprintf("script %s failed: %s", e.Script, e.Err)
}

func (e *FailedScriptError) Unwrap() error {
	return e.Err
}

// Runner executes scripts.
type Runner struct {
	// ScriptDir is the fallback directory for relative script paths.
	ScriptDir string
	// Dir is the working directory; empty means the current directory.
	Dir  string
	Exec command.Runner
	Log  zerolog.Logger
}

// Resolve returns the absolute script path to execute: path itself if it
// exists, else ScriptDir/path.
func (r Runner) Resolve(path string) (string, error) {
	candidates := []string{path}
	if r.ScriptDir != "" {
		candidates = append(candidates, filepath.Join(r.ScriptDir, path))
	}
	for _, c := range candidates {
		if fileExists(c) {
			// exec would search PATH for a bare name.
			return filepath.Abs(c)
		}
	}
	return "", fmt.Errorf("%s: %w", path, ErrNoScript)
}

// Run executes the script at path with args split by shell quoting rules.
// A non-zero exit is returned as *FailedScriptError when exitOnFail is
// set and only logged otherwise.
func (r Runner) Run(ctx context.Context, path, args string, exitOnFail bool) error {
	script, err := r.Resolve(path)
	if err != nil {
		return err
	}
	argv, err := shellquote.Split(args)
	if err != nil {
		return fmt.Errorf("parsing arguments for %s: %w", script, err)
	}

	exec := r.Exec
	if exec == nil {
		exec = command.Exec{Log: r.Log}
	}

	r.Log.Info().Str("script", script).Strs("args", argv).Msg("running script")
	if err := exec.Run(ctx, r.Dir, script, argv...); err != nil {
		if exitOnFail {
			return &FailedScriptError{Script: script, Err: err}
		}
		r.Log.Error().Err(err).Str("script", script).Msg("script failed; continuing")
	}
	return nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
