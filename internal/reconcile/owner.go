package reconcile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// normalizeOwnership hands the whole tree to the administrative account.
// A role with no files gets an empty tree and a warning.
func (f Fixer) normalizeOwnership(tree string, log zerolog.Logger) error {
	if _, err := os.Lstat(tree); errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("tree", tree).Msg("role manages no files")
		return os.MkdirAll(tree, 0755)
	}

	uid, gid, err := lookupIDs(f.Owner, f.Group)
	if err != nil {
		return err
	}
	return filepath.WalkDir(tree, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := unix.Lchown(path, uid, gid); err != nil {
			return fmt.Errorf("chown %s: %w", path, err)
		}
		return nil
	})
}

// lookupIDs resolves user and group names, or numeric ids, to ids.
func lookupIDs(owner, group string) (int, int, error) {
	if owner == "" {
		owner = "root"
	}
	if group == "" {
		group = "root"
	}

	uid, err := strconv.Atoi(owner)
	if err != nil {
		u, lookupErr := user.Lookup(owner)
		if lookupErr != nil {
			return 0, 0, fmt.Errorf("looking up owner %q: %w", owner, lookupErr)
		}
		uid, _ = strconv.Atoi(u.Uid)
	}

	gid, err := strconv.Atoi(group)
	if err != nil {
		g, lookupErr := user.LookupGroup(group)
		if lookupErr != nil {
			return 0, 0, fmt.Errorf("looking up group %q: %w", group, lookupErr)
		}
		gid, _ = strconv.Atoi(g.Gid)
	}
	return uid, gid, nil
}
