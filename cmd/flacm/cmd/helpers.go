package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/bianoble/flacm/internal/config"
	"github.com/bianoble/flacm/internal/telemetry"
	"github.com/bianoble/flacm/pkg/flacm"
)

// loadConfig reads the layered configuration and applies command line
// overrides.
func loadConfig() (*config.Config, []config.ConfigLayerInfo, error) {
	overrides := map[string]any{}
	if sourceFlag != "" {
		overrides["source"] = sourceFlag
	}
	if rolesSourceFlag != "" {
		overrides["roles_source"] = rolesSourceFlag
	}
	cfg, layers, err := config.Load(config.DiscoverOptions{FlagPath: configPath, Overrides: overrides})
	if err != nil {
		return nil, layers, fmt.Errorf("loading config: %w", err)
	}
	return cfg, layers, nil
}

// newLogger builds the process logger. Quiet mode sends everything to
// the configured log file.
func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	lc := telemetry.LogConfig{
		Level:  telemetry.VerbosityLevel(cfg.Log.Level, verbosity),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if quiet {
		lc.Output = cfg.Log.File
	}
	return telemetry.NewLogger(lc)
}

// newClient loads config and builds a client with its logger. The
// returned closer releases the log file.
func newClient() (*flacm.Client, io.Closer, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, closer, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	client, err := flacm.New(flacm.Options{Config: cfg, Log: log})
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return client, closer, nil
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbosity > 0 && !quiet {
		fmt.Printf("  "+format+"\n", args...)
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
