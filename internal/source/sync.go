package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/bianoble/flacm/internal/staging"
)

// TreeSync merges trees without external tools. It follows the same rules
// as RsyncSync: identical files are left untouched, a symlink to a
// directory in the destination is written through rather than replaced,
// and ownership is carried over when running as root.
type TreeSync struct {
	Log zerolog.Logger
}

// Sync copies the contents of srcDir into destDir.
func (t TreeSync) Sync(ctx context.Context, srcDir, destDir string) error {
	keepOwner := os.Geteuid() == 0

	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		if info.IsDir() {
			// Stat rather than Lstat: a symlinked directory is kept.
			if fi, err := os.Stat(target); err == nil && fi.IsDir() {
				return nil
			}
		} else {
			if fi, err := os.Lstat(target); err == nil && fi.IsDir() {
				return fmt.Errorf("refusing to replace directory %s with a file", target)
			}
			same, err := staging.Identical(path, target)
			if err != nil {
				return err
			}
			if same {
				return nil
			}
		}

		if err := copyEntry(path, target, info); err != nil {
			return err
		}
		if info.IsDir() {
			if err := os.Chmod(target, info.Mode().Perm()); err != nil {
				return err
			}
		}
		t.Log.Debug().Str("path", target).Msg("synced")

		if keepOwner {
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				if err := unix.Lchown(target, int(st.Uid), int(st.Gid)); err != nil {
					return fmt.Errorf("setting owner of %s: %w", target, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("syncing %s onto %s: %w", srcDir, destDir, err)
	}
	return nil
}
