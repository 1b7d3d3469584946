// Package config loads the agent configuration from built-in defaults,
// the discovered yaml files and FLACM_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bianoble/flacm/internal/source"
)

const envPrefix = "FLACM_"

var defaults = map[string]any{
	"source":          "",
	"part_as_whole":   false,
	"owner":           "root",
	"group":           "root",
	"staging_dir":     "/tmp",
	"live_root":       "/",
	"sync":            "tree",
	"state_dir":       "/var/lib/flacm",
	"reboot_interval": "24h",
	"daemon.interval": "30m",
	"scan.exclude":    []string{},
	"http.insecure":   false,
	"http.timeout":    "5m",
	"ssh.user":        "root",
	"ssh.timeout":     "30s",
	"log.level":       "info",
	"log.format":      "console",
	"log.output":      "stderr",
	"log.file":        "/var/log/flacm.log",
}

// Load merges the layers found by DiscoverPaths with defaults below and
// the environment and opts.Overrides above, then validates the result. Missing files are
// skipped; a file that exists but does not parse fails the load. The
// returned layers report what was read.
func Load(opts DiscoverOptions) (*Config, []ConfigLayerInfo, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	layers := DiscoverPaths(opts)
	for i := range layers {
		layer := &layers[i]
		if _, err := os.Stat(layer.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) && layer.Level != LevelFlag {
				continue
			}
			layer.Err = err
			return nil, layers, fmt.Errorf("reading config %s: %w", layer.Path, err)
		}
		if err := k.Load(file.Provider(layer.Path), yaml.Parser()); err != nil {
			layer.Err = err
			return nil, layers, fmt.Errorf("parsing config %s: %w", layer.Path, err)
		}
		layer.Loaded = true
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, layers, fmt.Errorf("loading environment: %w", err)
	}
	for key, val := range opts.Overrides {
		if err := k.Set(key, val); err != nil {
			return nil, layers, fmt.Errorf("applying override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, layers, fmt.Errorf("decoding config: %w", err)
	}
	cfg.applyDerived()

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, layers, &ValidationError{Errors: errs}
	}
	return &cfg, layers, nil
}

// applyDerived fills paths that default relative to other settings.
func (c *Config) applyDerived() {
	if c.IgnoreFile == "" {
		c.IgnoreFile = filepath.Join(c.StateDir, "ignore")
	}
	if c.RebootFile == "" {
		c.RebootFile = filepath.Join(c.StateDir, "reboot")
	}
}

// RolesLocator returns the assignment file locator, defaulting to
// roles.yaml at the top of the data source.
func (c *Config) RolesLocator() (source.Locator, error) {
	if c.RolesSource != "" {
		return source.ParseLocator(c.RolesSource)
	}
	base, err := source.ParseLocator(c.Source)
	if err != nil {
		return source.Locator{}, err
	}
	return base.Join("roles.yaml"), nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks a Config for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []string{err.Error()}
		}
		for _, fe := range verrs {
			errs = append(errs, fieldMessage(fe))
		}
	}

	if cfg.Source != "" {
		if _, err := source.ParseLocator(cfg.Source); err != nil {
			errs = append(errs, fmt.Sprintf("'source': %v", err))
		}
	}
	if cfg.RolesSource != "" {
		if _, err := source.ParseLocator(cfg.RolesSource); err != nil {
			errs = append(errs, fmt.Sprintf("'roles_source': %v", err))
		}
	}
	for _, pattern := range cfg.Scan.Exclude {
		if pattern == "" {
			errs = append(errs, "'scan.exclude': empty pattern")
		}
	}
	return errs
}

// fieldMessage renders a validator failure with the dotted config key.
func fieldMessage(fe validator.FieldError) string {
	_, key, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is required", key)
	case "oneof":
		return fmt.Sprintf("'%s': invalid value '%v', must be one of: %s", key, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt", "gte":
		return fmt.Sprintf("'%s': must be %s %s", key, map[string]string{"gt": "greater than", "gte": "at least"}[fe.Tag()], fe.Param())
	default:
		return fmt.Sprintf("'%s': failed '%s' check", key, fe.Tag())
	}
}
