// file: internal/scanner/inode_windows.go
// version: 1.1.0
// guid: b2c3d4e5-f6a7-8901-bcde-f12345678901

//go:build windows

package scanner

import "os"

// dirIdent is a no-op on Windows; duplicate-root detection falls back to
// path comparison there.
func dirIdent(_ os.FileInfo) (uint64, bool) {
	return 0, false
}
