package reconcile

import (
	"io/fs"
	"syscall"
)

func fileOwner(fi fs.FileInfo) (int, int) {
	st := fi.Sys().(*syscall.Stat_t)
	return int(st.Uid), int(st.Gid)
}
