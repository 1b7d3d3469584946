package reconcile

import (
	"errors"

	"github.com/bianoble/flacm/internal/manifest"
)

var (
	// ErrNoBaseFile is returned for a Part entry whose live file is missing.
	ErrNoBaseFile = errors.New("no base file to merge into")

	// ErrNotWritable is returned when a fix tree destination cannot be written.
	ErrNotWritable = errors.New("destination not writable")

	// ErrDirectoryConflict is returned when a file would replace a
	// directory or the other way around.
	ErrDirectoryConflict = errors.New("file and directory conflict")

	// ErrUnknownType is returned for an entry type with no handler.
	ErrUnknownType = errors.New("unknown entry type")
)

// Outcomes recorded in Action.Result.
const (
	Written   = "written"
	Unchanged = "unchanged"
	Appended  = "appended"
	Removed   = "removed"
	Absent    = "absent"
	Skipped   = "skipped"
)

// Action records what happened to one manifest entry.
type Action struct {
	Path   string
	Type   manifest.Type
	Result string
}
