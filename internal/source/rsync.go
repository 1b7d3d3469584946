package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/bianoble/flacm/internal/command"
)

// rsyncPartialTransfer is rsync's exit status when a requested path is
// missing on the server.
const rsyncPartialTransfer = 23

// Rsync fetches from an rsync daemon. Locations take the form
// //host/module/path.
type Rsync struct {
	Runner command.Runner
}

// Fetch runs rsync with checksum comparison and CVS-style excludes,
// retrying once on failure.
func (r Rsync) Fetch(ctx context.Context, location, destDir string) error {
	remote := "rsync:" + location
	if !strings.HasPrefix(location, "//") {
		remote = "rsync://" + strings.TrimLeft(location, "/")
	}

	err := retryOnce(func() error {
		return r.Runner.Run(ctx, "", "rsync", "-azcC", remote, destDir)
	})
	var exitErr *command.ExitError
	if errors.As(err, &exitErr) && exitErr.Code == rsyncPartialTransfer {
		err = fmt.Errorf("%w: %w", err, fs.ErrNotExist)
	}
	if err != nil {
		return &SourceError{
			Source:    remote,
			Operation: "fetch",
			Err:       err,
			Hint:      "check that the rsync daemon is reachable and exports the module",
		}
	}
	return nil
}

// RsyncSync merges trees with a local rsync invocation.
type RsyncSync struct {
	Runner command.Runner
}

// Sync copies the contents of srcDir into destDir. Symlinked directories
// already present in destDir are kept (-K) and directory times are left
// alone (-O).
func (s RsyncSync) Sync(ctx context.Context, srcDir, destDir string) error {
	src := strings.TrimRight(srcDir, "/") + "/"
	if err := s.Runner.Run(ctx, "", "rsync", "-acOK", src, destDir); err != nil {
		return fmt.Errorf("syncing %s onto %s: %w", src, destDir, err)
	}
	return nil
}
