// file: internal/scanner/inode_unix.go
// version: 1.1.0
// guid: a1b2c3d4-e5f6-7890-abcd-ef1234567890

//go:build !windows

package scanner

import (
	"os"
	"syscall"
)

// dirIdent returns the inode of a directory so the walk can recognize the
// same physical folder reached through two library roots (bind mounts,
// symlinked trees). Returns 0, false when the syscall type is unavailable.
func dirIdent(info os.FileInfo) (uint64, bool) {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(sys.Ino), true
}
