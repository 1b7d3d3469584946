package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Transport fetches the item at location into destDir. The fetched file
// or directory lands at destDir/<basename of location>. Implementations
// are idempotent and retry at most once before returning an error.
type Transport interface {
	Fetch(ctx context.Context, location, destDir string) error
}

// Syncer merges the contents of srcDir into destDir.
type Syncer interface {
	Sync(ctx context.Context, srcDir, destDir string) error
}

var (
	// ErrUnknownTransport is returned when no transport matches a scheme.
	ErrUnknownTransport = errors.New("unknown transport")

	// ErrInvalidLocator is returned for a locator without a scheme.
	ErrInvalidLocator = errors.New("invalid locator")
)

// IsNotFound reports whether err means the requested item does not exist
// in the data source.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// SourceError represents an error associated with a specific source operation.
type SourceError struct {
	Source    string
	Operation string
	Err       error
	Hint      string
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("%s: %s failed: %s", e.Source, e.Operation, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Registry maps transport names to Transport implementations. Names are
// registered in their canonical spelling: "Local", "Rsync", "HTTP".
type Registry struct {
	transports map[string]Transport
}

// NewRegistry creates a new empty transport registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register adds a transport under its canonical name.
func (r *Registry) Register(name string, t Transport) {
	r.transports[name] = t
}

// Lookup finds the transport for a locator scheme. Schemes arrive in any
// case from hand-written locators, so the scheme is tried capitalized
// first ("LOCAL" -> "Local") and then fully upper-cased ("HTTP").
func (r *Registry) Lookup(scheme string) (Transport, error) {
	if t, ok := r.transports[capitalize(scheme)]; ok {
		return t, nil
	}
	if t, ok := r.transports[strings.ToUpper(scheme)]; ok {
		return t, nil
	}
	return nil, &SourceError{
		Source:    scheme,
		Operation: "lookup",
		Err:       fmt.Errorf("%w '%s'", ErrUnknownTransport, scheme),
		Hint:      "supported transports: " + r.supported(),
	}
}

// Fetch fetches loc into destDir with the transport its scheme selects.
func (r *Registry) Fetch(ctx context.Context, loc Locator, destDir string) error {
	t, err := r.Lookup(loc.Scheme)
	if err != nil {
		return err
	}
	if err := t.Fetch(ctx, loc.Location, destDir); err != nil {
		var se *SourceError
		if errors.As(err, &se) {
			return err
		}
		return &SourceError{Source: loc.String(), Operation: "fetch", Err: err}
	}
	return nil
}

func (r *Registry) supported() string {
	names := make([]string, 0, len(r.transports))
	for n := range r.transports {
		names = append(names, n)
	}
	if len(names) == 0 {
		return "(none registered)"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// retryOnce runs fn and, if it fails, runs it exactly once more.
func retryOnce(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
