// Package manifest builds the list of files a role manages from a staged
// role tree. File suffixes carry the reconciliation type: motd.whole
// replaces /etc/motd outright, hosts.part merges into /etc/hosts and
// old.conf.remove deletes it.
package manifest

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Type selects how an entry is reconciled.
type Type int

const (
	Whole Type = iota + 1
	Part
	Remove
	// None marks a file without a type suffix. It is reconciled as Whole.
	None
)

var typeNames = map[Type]string{
	Whole:  "whole",
	Part:   "part",
	Remove: "remove",
	None:   "none",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// suffixes maps a file name suffix to its type. None has no suffix.
var suffixes = []struct {
	suffix string
	typ    Type
}{
	{".whole", Whole},
	{".part", Part},
	{".remove", Remove},
}

// SplitName strips a type suffix from name. A name without a recognised
// suffix, or one that is nothing but the suffix, is returned unchanged
// with type None.
func SplitName(name string) (string, Type) {
	for _, s := range suffixes {
		if base, ok := strings.CutSuffix(name, s.suffix); ok && base != "" {
			return base, s.typ
		}
	}
	return name, None
}

// Entry is one managed file.
type Entry struct {
	// Path is the absolute logical path on the live system, suffix stripped.
	Path string
	Type Type
	// Source is the staged file the entry was scanned from.
	Source string
}

// Manifest is an insertion-ordered set of entries keyed by Path.
type Manifest struct {
	order   []string
	entries map[string]Entry
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{entries: make(map[string]Entry)}
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.order)
}

// Get returns the entry for path.
func (m *Manifest) Get(path string) (Entry, bool) {
	e, ok := m.entries[path]
	return e, ok
}

// Entries returns all entries in insertion order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.order))
	for _, p := range m.order {
		out = append(out, m.entries[p])
	}
	return out
}

// Add inserts e. When e.Path is already present and overwrite is false,
// the new entry wins only if the existing one is not Whole; both outcomes
// are logged as warnings. With overwrite the new entry always wins
// silently. A replaced entry keeps its original position.
// Add reports whether e was stored.
func (m *Manifest) Add(e Entry, overwrite bool, log zerolog.Logger) bool {
	old, exists := m.entries[e.Path]
	if !exists {
		m.order = append(m.order, e.Path)
		m.entries[e.Path] = e
		return true
	}

	switch {
	case overwrite:
	case old.Type == Whole:
		log.Warn().
			Str("path", e.Path).
			Str("kept", old.Source).
			Str("ignored", e.Source).
			Msg("whole file already managed; ignoring conflicting entry")
		return false
	default:
		log.Warn().
			Str("path", e.Path).
			Str("old_type", old.Type.String()).
			Str("new_type", e.Type.String()).
			Str("source", e.Source).
			Msg("replacing manifest entry")
	}
	m.entries[e.Path] = e
	return true
}

// Overlay merges sub into base with overwrite semantics and returns base.
func Overlay(base, sub *Manifest, log zerolog.Logger) *Manifest {
	for _, e := range sub.Entries() {
		base.Add(e, true, log)
	}
	return base
}
