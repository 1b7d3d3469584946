package staging

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
)

// Identical reports whether a and b are the same kind of object with the
// same content: two regular files with equal bytes and permissions, or
// two symlinks with the same target. A missing path is never identical.
func Identical(a, b string) (bool, error) {
	ai, err := os.Lstat(a)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	bi, err := os.Lstat(b)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	switch {
	case ai.Mode()&os.ModeSymlink != 0 && bi.Mode()&os.ModeSymlink != 0:
		at, err := os.Readlink(a)
		if err != nil {
			return false, err
		}
		bt, err := os.Readlink(b)
		if err != nil {
			return false, err
		}
		return at == bt, nil
	case ai.Mode().IsRegular() && bi.Mode().IsRegular():
		if ai.Size() != bi.Size() || ai.Mode().Perm() != bi.Mode().Perm() {
			return false, nil
		}
		return sameContent(a, b)
	default:
		return false, nil
	}
}

func sameContent(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	ra, rb := bufio.NewReader(fa), bufio.NewReader(fb)
	bufA := make([]byte, 32*1024)
	bufB := make([]byte, 32*1024)
	for {
		na, errA := io.ReadFull(ra, bufA)
		nb, errB := io.ReadFull(rb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		aDone := errA == io.EOF || errA == io.ErrUnexpectedEOF
		bDone := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if aDone || bDone {
			return aDone && bDone, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}
