package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotCopyable is returned by CopyFile for anything other than a
// regular file or a symlink.
var ErrNotCopyable = errors.New("not a regular file or symlink")

// CopyFile copies a regular file or recreates a symlink at dst, replacing
// whatever file or symlink is there. Parent directories are created. An
// existing directory at dst is left alone and reported as an error.
func CopyFile(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if fi, err := os.Lstat(dst); err == nil && fi.IsDir() {
		return fmt.Errorf("%s is a directory: %w", dst, fs.ErrExist)
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		link, err := os.Readlink(src)
		if err != nil {
			return fmt.Errorf("reading link %s: %w", src, err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", dst, err)
		}
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("replacing %s: %w", dst, err)
		}
		return os.Symlink(link, dst)
	case info.Mode().IsRegular():
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		return WriteFileAtomic(dst, f, info.Mode().Perm())
	default:
		return fmt.Errorf("%s: %w", src, ErrNotCopyable)
	}
}
