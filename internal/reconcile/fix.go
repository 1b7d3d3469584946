// Package reconcile builds the fix tree: a staged copy of every live file a
// role manages, brought to the state the role's manifest describes. The
// fix tree is later merged onto the live root in one pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/bianoble/flacm/internal/manifest"
	"github.com/bianoble/flacm/internal/staging"
)

// Fixer reconciles a manifest into a fresh fix root.
type Fixer struct {
	// StagingDir is where fix roots are created; empty means the temp dir.
	StagingDir string
	// LiveRoot is the filesystem the role is applied to; empty means "/".
	LiveRoot string
	// Owner and Group own the fix tree after reconciliation. Names or
	// numeric ids; empty means root.
	Owner string
	Group string
	// PartAsWhole installs a Part file outright when its base is missing.
	PartAsWhole bool
	// DryRun leaves the live filesystem untouched.
	DryRun bool
	Log    zerolog.Logger
}

// TreeRoot returns the directory inside fixRoot that mirrors the live
// root for role.
func TreeRoot(fixRoot, role string) string {
	return filepath.Join(fixRoot, role, "root")
}

// Fix creates a fix root and reconciles every entry of m into
// <fixRoot>/<role>/root. It returns the fix root and the actions taken.
// The caller owns the fix root and must clean it; on error it has
// already been removed.
func (f Fixer) Fix(ctx context.Context, role string, m *manifest.Manifest) (_ string, actions []Action, err error) {
	fixRoot, err := staging.MakeRoot(staging.FixRoot, f.StagingDir)
	if err != nil {
		return "", nil, fmt.Errorf("creating fix root: %w", err)
	}
	defer func() {
		if err != nil {
			staging.Clean(f.Log, fixRoot)
		}
	}()

	log := f.Log.With().Str("role", role).Logger()
	tree := filepath.Join(role, "root")

	for _, e := range m.Entries() {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		dest, err := staging.Within(fixRoot, filepath.Join(tree, e.Path))
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", e.Path, err)
		}
		live := f.livePath(e.Path)

		if err := stageLive(live, dest); err != nil {
			log.Debug().Err(err).Str("path", e.Path).Msg("live file not staged")
		}

		result, err := f.apply(e, dest, live, log)
		if err != nil {
			return "", nil, fmt.Errorf("%s (%s): %w", e.Path, e.Type, err)
		}
		log.Debug().Str("path", e.Path).Str("type", e.Type.String()).Str("result", result).Msg("reconciled")
		actions = append(actions, Action{Path: e.Path, Type: e.Type, Result: result})
	}

	if err := f.normalizeOwnership(TreeRoot(fixRoot, role), log); err != nil {
		return "", nil, err
	}
	return fixRoot, actions, nil
}

func (f Fixer) livePath(p string) string {
	root := f.LiveRoot
	if root == "" {
		root = "/"
	}
	return filepath.Join(root, p)
}

// stageLive copies the live file into the fix tree unchanged. A missing
// live file, or a directory, is left for the type handler to deal with.
func stageLive(live, dest string) error {
	fi, err := os.Lstat(live)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return nil
	}
	return staging.CopyFile(live, dest)
}

// apply dispatches on the entry type.
func (f Fixer) apply(e manifest.Entry, dest, live string, log zerolog.Logger) (string, error) {
	switch e.Type {
	case manifest.Whole, manifest.None:
		return f.whole(e, dest, live)
	case manifest.Part:
		result, err := f.part(e, dest)
		if errors.Is(err, ErrNoBaseFile) {
			if f.PartAsWhole {
				log.Info().Str("path", e.Path).Msg("no base file; installing part as whole")
				return f.whole(e, dest, live)
			}
			log.Error().Str("path", e.Path).Msg("no base file for part; skipping")
			return Skipped, nil
		}
		return result, err
	case manifest.Remove:
		return f.remove(dest, live, log), nil
	default:
		return "", fmt.Errorf("%w %d", ErrUnknownType, int(e.Type))
	}
}

// whole replaces dest with an exact copy of the entry source.
func (f Fixer) whole(e manifest.Entry, dest, live string) (string, error) {
	if fi, err := os.Lstat(live); err == nil && fi.IsDir() {
		return "", fmt.Errorf("live path %s is a directory: %w", live, ErrDirectoryConflict)
	}
	if fi, err := os.Lstat(dest); err == nil && fi.IsDir() {
		return "", fmt.Errorf("%s is a directory: %w", dest, ErrDirectoryConflict)
	}

	same, err := staging.Identical(e.Source, dest)
	if err != nil {
		return "", err
	}
	if same {
		return Unchanged, nil
	}

	if err := staging.CopyFile(e.Source, dest); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", fmt.Errorf("%s: %w", dest, ErrNotWritable)
		}
		if errors.Is(err, staging.ErrNotCopyable) {
			return "", err
		}
		return "", fmt.Errorf("copying %s: %w", e.Source, err)
	}
	return Written, nil
}

// remove deletes the entry from the fix tree and from the live root.
// Only regular files and symlinks to regular files are removed; the
// decision is taken on the live path and applied to both copies.
func (f Fixer) remove(dest, live string, log zerolog.Logger) string {
	if res, ok := removable(live, log); !ok {
		return res
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", dest).Msg("cannot remove staged copy")
	}
	if f.DryRun {
		return Removed
	}
	if err := os.Remove(live); err != nil {
		log.Error().Err(err).Str("path", live).Msg("remove failed")
		return Skipped
	}
	log.Info().Str("path", live).Msg("removed")
	return Removed
}

// removable reports whether path may be removed. Symlinks are followed:
// a link to a directory or to nothing is refused like the directory
// itself.
func removable(path string, log zerolog.Logger) (string, bool) {
	lfi, err := os.Lstat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Error().Err(err).Str("path", path).Msg("cannot inspect file for removal")
			return Skipped, false
		}
		return Absent, false
	}
	fi := lfi
	if lfi.Mode()&fs.ModeSymlink != 0 {
		if fi, err = os.Stat(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("refusing to remove symlink with unreadable target")
			return Skipped, false
		}
	}
	if !fi.Mode().IsRegular() {
		log.Error().Str("path", path).Str("mode", fi.Mode().String()).Msg("refusing to remove non-regular file")
		return Skipped, false
	}
	return "", true
}
