package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bianoble/flacm/internal/staging"
)

// Local copies a directory or a single file from the local filesystem.
type Local struct{}

// Fetch copies location to destDir/<basename>. Symlinks are recreated
// rather than followed and file modes are preserved. Copying over an
// earlier fetch replaces the files it touches.
func (Local) Fetch(ctx context.Context, location, destDir string) error {
	src := filepath.Clean(location)
	if _, err := os.Lstat(src); err != nil {
		return &SourceError{
			Source:    "local:" + location,
			Operation: "fetch",
			Err:       fmt.Errorf("stat %s: %w", src, err),
			Hint:      "check that the path exists",
		}
	}

	dest := filepath.Join(destDir, filepath.Base(src))
	if err := CopyTree(ctx, src, dest); err != nil {
		return &SourceError{Source: "local:" + location, Operation: "fetch", Err: err}
	}
	return nil
}

// CopyTree copies src to dest. A directory is copied recursively, a file
// or symlink is copied as itself.
func CopyTree(ctx context.Context, src, dest string) error {
	type dirMode struct {
		path string
		perm fs.FileMode
	}
	// Directory modes are applied last so read-only directories can
	// still be filled.
	var dirs []dirMode

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.IsDir() {
			dirs = append(dirs, dirMode{target, info.Mode().Perm()})
		}
		return copyEntry(path, target, info)
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chmod(dirs[i].path, dirs[i].perm); err != nil {
			return fmt.Errorf("setting mode on %s: %w", dirs[i].path, err)
		}
	}
	return nil
}

// copyEntry copies a single filesystem object. Directories are created
// but not descended into.
func copyEntry(path, target string, info fs.FileInfo) error {
	mode := info.Mode()
	switch {
	case mode.IsDir():
		if fi, err := os.Lstat(target); err == nil && !fi.IsDir() {
			if err := os.Remove(target); err != nil {
				return fmt.Errorf("replacing %s with a directory: %w", target, err)
			}
		}
		if err := os.MkdirAll(target, mode.Perm()|0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", target, err)
		}
		return os.Chmod(target, mode.Perm()|0700)
	case mode&fs.ModeSymlink != 0, mode.IsRegular():
		if fi, err := os.Lstat(target); err == nil && fi.IsDir() {
			if err := os.RemoveAll(target); err != nil {
				return fmt.Errorf("replacing directory %s: %w", target, err)
			}
		}
		return staging.CopyFile(path, target)
	default:
		// Devices, sockets and pipes have no place in a role tree.
		return nil
	}
}
