// file: internal/fileops/fileops.go
// version: 2.0.0
// guid: 2d3e4f5a-6b7c-8d9e-0f1a-2b3c4d5e6f7a

package fileops

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// MoveFolder moves src to dst, creating dst's parent. A same-device rename
// is attempted first; cross-device moves fall back to copy-then-delete.
// When dst exists but is empty it is removed first and the move proceeds.
func MoveFolder(src, dst string) error {
	if src == dst {
		return nil
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("source missing: %w", err)
	}

	if info, err := os.Stat(dst); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("destination %s exists and is not a directory", dst)
		}
		empty, emptyErr := IsDirEmpty(dst)
		if emptyErr != nil {
			return emptyErr
		}
		if !empty {
			return fmt.Errorf("destination %s exists and is not empty", dst)
		}
		if err := os.Remove(dst); err != nil {
			return fmt.Errorf("remove empty destination: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination parent: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return fmt.Errorf("rename failed: %w", err)
	}

	log.Printf("[INFO] cross-device move, copying %s -> %s", src, dst)
	if err := copyTree(src, dst); err != nil {
		os.RemoveAll(dst)
		return fmt.Errorf("cross-device copy failed: %w", err)
	}
	return os.RemoveAll(src)
}

func isCrossDevice(err error) bool {
	return strings.Contains(err.Error(), "cross-device") ||
		strings.Contains(err.Error(), "invalid cross-device link")
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// IsDirEmpty reports whether dir has no entries.
func IsDirEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// RemoveEmptyParent removes the parent directory of path when it became
// empty after a move, stopping at root. Removal failures are logged and
// swallowed: a leftover empty folder is cosmetic.
func RemoveEmptyParent(path, root string) {
	parent := filepath.Dir(path)
	rootClean := filepath.Clean(root)
	if filepath.Clean(parent) == rootClean {
		return
	}
	rel, err := filepath.Rel(rootClean, parent)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	empty, err := IsDirEmpty(parent)
	if err != nil || !empty {
		return
	}
	if err := os.Remove(parent); err != nil {
		log.Printf("[WARN] could not remove empty parent %s: %v", parent, err)
	}
}
