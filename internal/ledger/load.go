package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a ledger. A missing file yields an empty
// ledger.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Ledger{Version: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}

	var l Ledger
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing ledger %s: %w", path, err)
	}
	if l.Version == 0 && len(l.Roles) == 0 {
		l.Version = 1
	}

	if errs := Validate(&l); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return &l, nil
}

// Save writes a ledger atomically using a temp file and rename.
func Save(path string, l *Ledger) error {
	data, err := yaml.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp ledger %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp ledger to %s: %w", path, err)
	}
	return nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Ledger for semantic correctness.
func Validate(l *Ledger) []string {
	var errs []string

	if l.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d, only version 1 is supported", l.Version))
	}

	seen := make(map[string]bool)
	for i, r := range l.Roles {
		prefix := fmt.Sprintf("role[%d]", i)
		if r.Name != "" {
			prefix = fmt.Sprintf("role '%s'", r.Name)
		}

		key := r.Variant + "/" + r.Name
		switch {
		case r.Name == "":
			errs = append(errs, fmt.Sprintf("%s: 'name' is required", prefix))
		case seen[key]:
			errs = append(errs, fmt.Sprintf("%s: duplicate %s role", prefix, r.Variant))
		default:
			seen[key] = true
		}

		switch r.Status {
		case StatusOK, StatusFailed, StatusDryRun:
		case "":
			errs = append(errs, fmt.Sprintf("%s: 'status' is required", prefix))
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown status '%s'", prefix, r.Status))
		}
	}
	return errs
}
