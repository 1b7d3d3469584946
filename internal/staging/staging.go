// Package staging manages the ephemeral directories a role run works in:
// the false root holding the fetched role tree and the fix root holding
// the reconciled tree. Names carry a random component and a timestamp so
// that concurrent runs on one host never pick the same directory.
package staging

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Kind distinguishes the two staging directory roles.
type Kind int

const (
	FalseRoot Kind = iota
	FixRoot
)

func (k Kind) String() string {
	if k == FixRoot {
		return "fix root"
	}
	return "false root"
}

// Default name prefixes.
const (
	FalseRootPrefix = "flacm"
	FixRootPrefix   = "fix"
)

// ErrCollision is returned when the generated staging name already exists.
var ErrCollision = errors.New("staging directory already exists")

// suffix produces the unique part of a staging directory name.
var suffix = func() string {
	return strconv.Itoa(rand.Intn(1000)) + strconv.FormatInt(time.Now().Unix(), 10)
}

// Prefix returns the name prefix for kind.
func (k Kind) Prefix() string {
	if k == FixRoot {
		return FixRootPrefix
	}
	return FalseRootPrefix
}

// MakeRoot creates <parentDir>/<kind prefix><rand><unix seconds> and
// returns its path. An empty parentDir means the system temp directory. A
// collision is an error; MakeRoot does not retry with another name.
func MakeRoot(kind Kind, parentDir string) (string, error) {
	if parentDir == "" {
		parentDir = os.TempDir()
	}
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return "", fmt.Errorf("creating staging parent %s: %w", parentDir, err)
	}

	root := filepath.Join(parentDir, kind.Prefix()+suffix())

	fi, err := os.Lstat(root)
	switch {
	case err == nil && fi.Mode().IsRegular():
		// A stray file from an interrupted run is safe to replace.
		if rmErr := os.Remove(root); rmErr != nil {
			return "", fmt.Errorf("removing stale file at %s: %w", root, rmErr)
		}
	case err == nil:
		return "", fmt.Errorf("%s: %w", root, ErrCollision)
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("checking staging path %s: %w", root, err)
	}

	if err := os.Mkdir(root, 0700); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%s: %w", root, ErrCollision)
		}
		return "", fmt.Errorf("creating %s %s: %w", kind, root, err)
	}
	return root, nil
}

// Clean removes a staging directory tree. It never fails the caller: a
// missing path is fine and any other problem is only logged.
func Clean(log zerolog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not remove staging directory")
		return
	}
	log.Debug().Str("path", path).Msg("removed staging directory")
}
