//go:build unix

package cli

import (
	"os"
	"syscall"
)

// allocated returns the bytes actually used by a sparse file.
func allocated(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Blocks) * 512
	}
	return uint64(info.Size())
}
