package reconcile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"

	"golang.org/x/sys/unix"

	"github.com/bianoble/flacm/internal/manifest"
)

var commentLine = regexp.MustCompile(`^\s*#`)

// part merges the entry source into the staged live copy at dest. The
// source lines, comments dropped, are appended unless they already appear
// as a contiguous run of the comment-free target lines.
func (f Fixer) part(e manifest.Entry, dest string) (string, error) {
	fi, err := os.Lstat(dest)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoBaseFile
		}
		return "", err
	}
	switch {
	case fi.IsDir():
		return "", fmt.Errorf("%s is a directory: %w", dest, ErrDirectoryConflict)
	case !fi.Mode().IsRegular():
		// Appending through a symlink would write outside the fix tree.
		f.Log.Error().Str("path", e.Path).Msg("base file is not a regular file; part not merged")
		return Skipped, nil
	}

	partData, err := os.ReadFile(e.Source)
	if err != nil {
		return "", fmt.Errorf("reading part %s: %w", e.Source, err)
	}
	want := stripComments(partData)
	if len(want) == 0 {
		return Unchanged, nil
	}

	return appendPart(dest, want)
}

// appendPart appends lines to path under an exclusive lock unless they are
// already present.
func appendPart(path string, lines []string) (string, error) {
	fh, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", fmt.Errorf("%s: %w", path, ErrNotWritable)
		}
		return "", err
	}
	defer fh.Close()

	if err := unix.Flock(int(fh.Fd()), unix.LOCK_EX); err != nil {
		return "", fmt.Errorf("locking %s: %w", path, err)
	}
	defer func() { _ = unix.Flock(int(fh.Fd()), unix.LOCK_UN) }()

	current, err := io.ReadAll(fh)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if containsRun(stripComments(current), lines) {
		return Unchanged, nil
	}

	var buf bytes.Buffer
	if len(current) > 0 && current[len(current)-1] != '\n' {
		buf.WriteByte('\n')
	}
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	if _, err := fh.Seek(0, io.SeekEnd); err != nil {
		return "", err
	}
	if _, err := fh.Write(buf.Bytes()); err != nil {
		return "", fmt.Errorf("appending to %s: %w", path, err)
	}
	return Appended, nil
}

// stripComments splits data into lines and drops comment lines.
func stripComments(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if commentLine.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// containsRun reports whether needle occurs as a contiguous run in haystack.
func containsRun(haystack, needle []string) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, l := range needle {
			if haystack[i+j] != l {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
