package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
)

// DefaultExcludes are version-control directories never descended into.
var DefaultExcludes = []string{".svn", ".git", ".hg", ".bzr", "CVS"}

// Scanner walks a staged root directory.
type Scanner struct {
	// Exclude holds doublestar patterns matched against slash-separated
	// paths relative to the scanned root. Directories in DefaultExcludes
	// are always skipped.
	Exclude []string
	Log     zerolog.Logger
}

// Scan builds a manifest from every regular file and symlink under root.
// Directories are visited breadth first: all files in a directory are
// recorded before any of its subdirectories, and entries within a
// directory are taken in lexical order. A missing root yields an empty
// manifest.
func (s Scanner) Scan(root string, overwrite bool) (*Manifest, error) {
	m := New()
	if err := s.ScanInto(m, root, overwrite); err != nil {
		return nil, err
	}
	return m, nil
}

// ScanInto adds the entries under root to m.
func (s Scanner) ScanInto(m *Manifest, root string, overwrite bool) error {
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.Log.Warn().Str("root", root).Msg("nothing to scan")
			return nil
		}
		return fmt.Errorf("scanning %s: %w", root, err)
	}

	// Logical directories ("/" is the root itself) waiting to be read.
	queue := []string{"/"}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(dir)))
		if err != nil {
			return fmt.Errorf("reading %s: %w", dir, err)
		}

		var subdirs []string
		for _, de := range entries {
			logical := path.Join(dir, de.Name())
			if s.excluded(logical, de) {
				s.Log.Debug().Str("path", logical).Msg("excluded")
				continue
			}

			switch t := de.Type(); {
			case t.IsDir():
				subdirs = append(subdirs, logical)
			case t.IsRegular(), t&fs.ModeSymlink != 0:
				name, typ := SplitName(de.Name())
				m.Add(Entry{
					Path:   path.Join(dir, name),
					Type:   typ,
					Source: filepath.Join(root, filepath.FromSlash(logical)),
				}, overwrite, s.Log)
			default:
				s.Log.Debug().Str("path", logical).Str("mode", t.String()).Msg("skipping irregular file")
			}
		}
		queue = append(queue, subdirs...)
	}
	return nil
}

func (s Scanner) excluded(logical string, de fs.DirEntry) bool {
	if de.IsDir() {
		for _, name := range DefaultExcludes {
			if de.Name() == name {
				return true
			}
		}
	}
	rel := logical[1:]
	for _, pattern := range s.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
