// file: internal/backup/backup.go
// version: 2.0.0
// guid: 8f9e0a1b-2c3d-4e5f-6a7b-8c9d0e1f2a3b

// Package backup snapshots the library database before a cycle applies
// renames. A fix cycle rewrites book rows and moves folders on disk; the
// snapshot is what lets an operator unwind a bad run of automatic fixes.
package backup

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultKeep is how many snapshots Snapshot retains.
const DefaultKeep = 10

const snapshotPrefix = "library-"

// Info describes one stored snapshot. Checksum is the SHA-256 of the
// uncompressed database.
type Info struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot gzips the database file into dir and prunes snapshots beyond
// keep, oldest first. The database must not have an open write
// transaction; callers snapshot between cycles, never mid-batch.
func Snapshot(dbPath, dir string, keep int) (*Info, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	name := snapshotPrefix + time.Now().Format("20060102_150405") + ".db.gz"
	dst := filepath.Join(dir, name)

	checksum, err := compressFile(dbPath, dst)
	if err != nil {
		os.Remove(dst)
		return nil, err
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return nil, err
	}

	if err := prune(dir, keep); err != nil {
		return nil, err
	}
	return &Info{Path: dst, Size: fi.Size(), Checksum: checksum, CreatedAt: fi.ModTime()}, nil
}

// Restore decompresses a snapshot over dbPath. The caller must have closed
// the database first.
func Restore(snapshotPath, dbPath string) error {
	in, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	defer gz.Close()

	tmp := dbPath + ".restore"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("decompressing snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dbPath)
}

// List returns stored snapshots, newest first.
func List(dir string) ([]Info, error) {
	paths, err := snapshotPaths(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(paths))
	for i := len(paths) - 1; i >= 0; i-- {
		fi, err := os.Stat(paths[i])
		if err != nil {
			continue
		}
		infos = append(infos, Info{Path: paths[i], Size: fi.Size(), CreatedAt: fi.ModTime()})
	}
	return infos, nil
}

func compressFile(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening database: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	hash := sha256.New()
	gz, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(io.MultiWriter(gz, hash), in); err != nil {
		return "", fmt.Errorf("compressing database: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// prune removes the oldest snapshots beyond keep. Timestamped names sort
// chronologically.
func prune(dir string, keep int) error {
	paths, err := snapshotPaths(dir)
	if err != nil {
		return err
	}
	for len(paths) > keep {
		if err := os.Remove(paths[0]); err != nil {
			return err
		}
		paths = paths[1:]
	}
	return nil
}

func snapshotPaths(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, snapshotPrefix+"*.db.gz"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
