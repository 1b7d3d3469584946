// Package telemetry builds the structured logger and the run metrics
// shared by every flacm component.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string // trace, debug, info, warn, error
	Format string // console, json
	Output string // stderr, stdout, or a file path
}

// NewLogger creates a logger from cfg. The returned closer releases the
// output file when Output names one; it is a no-op otherwise.
func NewLogger(cfg LogConfig) (zerolog.Logger, io.Closer, error) {
	var (
		writer io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("opening log file %s: %w", cfg.Output, err)
		}
		writer = file
		closer = file
	}

	return New(writer, cfg), closer, nil
}

// New creates a logger that writes to w.
func New(w io.Writer, cfg LogConfig) zerolog.Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(ParseLevel(cfg.Level))
}

// Component returns a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// ParseLevel converts a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// VerbosityLevel maps a -v count onto a level name: one -v is debug,
// two or more is trace.
func VerbosityLevel(base string, count int) string {
	switch {
	case count >= 2:
		return "trace"
	case count == 1:
		return "debug"
	default:
		return base
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
