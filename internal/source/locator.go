package source

import (
	"fmt"
	"strings"
)

// Locator names a fetchable item: a transport scheme and a
// transport-specific location, written "scheme:location".
type Locator struct {
	Scheme   string
	Location string
}

// ParseLocator splits s on its first colon.
func ParseLocator(s string) (Locator, error) {
	scheme, location, ok := strings.Cut(s, ":")
	if !ok || scheme == "" {
		return Locator{}, fmt.Errorf("%w '%s': expected <scheme>:<location>", ErrInvalidLocator, s)
	}
	return Locator{Scheme: scheme, Location: location}, nil
}

// MustParseLocator is ParseLocator for constant locators; it panics on error.
func MustParseLocator(s string) Locator {
	loc, err := ParseLocator(s)
	if err != nil {
		panic(err)
	}
	return loc
}

func (l Locator) String() string {
	return l.Scheme + ":" + l.Location
}

// Join returns a locator with elems appended to the location as path
// segments.
func (l Locator) Join(elems ...string) Locator {
	loc := strings.TrimRight(l.Location, "/")
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		loc += "/" + e
	}
	return Locator{Scheme: l.Scheme, Location: loc}
}

// Base returns the last path segment of the location.
func (l Locator) Base() string {
	loc := strings.TrimRight(l.Location, "/")
	if i := strings.LastIndex(loc, "/"); i >= 0 {
		return loc[i+1:]
	}
	return loc
}
