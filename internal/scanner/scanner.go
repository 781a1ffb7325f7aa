// file: internal/scanner/scanner.go
// version: 2.0.0
// guid: 3c4d5e6f-7a8b-9c0d-1e2f-3a4b5c6d7e8f

package scanner

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/jdfalk/library-manager/internal/audio"
	"github.com/jdfalk/library-manager/internal/config"
	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/profile"
)

// Queue priorities: watch-folder arrivals jump ahead of library backlog.
const (
	priorityWatch   = 10
	priorityLibrary = 100
)

// Scanner walks the configured roots and turns book folders into store rows.
type Scanner struct {
	cfg   *config.Config
	store *database.Store
}

// New creates a Scanner.
func New(cfg *config.Config, store *database.Store) *Scanner {
	return &Scanner{cfg: cfg, store: store}
}

// Result summarizes one scan pass.
type Result struct {
	Scanned int
	New     int
	Queued  int
	Pruned  int
}

// candidate is one discovered book folder.
type candidate struct {
	path      string
	author    string
	title     string
	media     string
	fromWatch bool
}

// ScanAll walks every library root and the watch folder, upserts a book row
// per discovered folder, queues the ones that need work, and prunes rows
// whose folders are gone.
func (s *Scanner) ScanAll(ctx context.Context) (*Result, error) {
	profile.SetPlaceholderNames(s.cfg.WatchFolderNames())

	var cands []candidate
	seen := make(map[uint64]bool)
	for _, root := range s.cfg.LibraryPaths {
		found, err := s.collect(ctx, root, false, seen)
		if err != nil {
			log.Printf("[ERROR] scan of %q failed: %v", root, err)
			continue
		}
		cands = append(cands, found...)
	}
	if s.cfg.WatchFolder != "" {
		found, err := s.collect(ctx, s.cfg.WatchFolder, true, seen)
		if err != nil {
			log.Printf("[ERROR] scan of watch folder %q failed: %v", s.cfg.WatchFolder, err)
		} else {
			cands = append(cands, found...)
		}
	}

	res := &Result{Scanned: len(cands)}
	bar := progressbar.Default(int64(len(cands)), "scanning")
	for _, c := range cands {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		isNew, queued, err := s.upsertOne(c)
		if err != nil {
			log.Printf("[ERROR] scan upsert for %q failed: %v", c.path, err)
		}
		if isNew {
			res.New++
		}
		if queued {
			res.Queued++
		}
		_ = bar.Add(1)
	}

	pruned, err := s.store.PruneMissing(func(path string) bool {
		_, statErr := os.Stat(path)
		return statErr == nil
	})
	if err != nil {
		log.Printf("[ERROR] prune failed: %v", err)
	}
	res.Pruned = pruned

	if err := s.store.BumpStats(res.Scanned, res.Queued, 0, 0, 0); err != nil {
		log.Printf("[WARN] stats update failed: %v", err)
	}
	log.Printf("[INFO] scan complete: %d folders, %d new, %d queued, %d pruned",
		res.Scanned, res.New, res.Queued, res.Pruned)
	return res, nil
}

// Rescan clears every non-locked row back to pending and runs a full scan.
func (s *Scanner) Rescan(ctx context.Context) (*Result, error) {
	if err := s.store.ResetForRescan(); err != nil {
		return nil, err
	}
	return s.ScanAll(ctx)
}

// collect walks one root and returns its book folders. A folder counts as a
// book when it directly holds audio or ebook files; the walk does not
// descend into it further, so disc subfolders stay part of their book.
func (s *Scanner) collect(ctx context.Context, root string, fromWatch bool, seen map[uint64]bool) ([]candidate, error) {
	root = filepath.Clean(root)
	var out []candidate

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("[WARN] scan cannot read %q: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if profile.IsSystemFolder(d.Name()) {
			return fs.SkipDir
		}
		if info, infoErr := d.Info(); infoErr == nil {
			if ino, ok := dirIdent(info); ok && ino != 0 {
				if seen[ino] {
					return fs.SkipDir
				}
				seen[ino] = true
			}
		}
		if path == root {
			return nil
		}

		media := classifyFolder(path)
		if media == "" {
			return nil
		}

		author, title := guessFromPath(root, path)
		out = append(out, candidate{
			path:      path,
			author:    author,
			title:     title,
			media:     media,
			fromWatch: fromWatch,
		})
		return fs.SkipDir
	})
	return out, err
}

// classifyFolder reports the media type of a folder by its direct entries,
// or "" when it holds no book content of its own.
func classifyFolder(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	hasAudio, hasEbook := false, false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch {
		case audio.IsAudioFile(e.Name()):
			hasAudio = true
		case audio.IsEbookFile(e.Name()):
			hasEbook = true
		}
	}
	switch {
	case hasAudio && hasEbook:
		return database.MediaBoth
	case hasAudio:
		return database.MediaAudiobook
	case hasEbook:
		return database.MediaEbook
	default:
		return ""
	}
}

// guessFromPath derives the initial author/title guess from the folder's
// position under its root: title is the folder name, author its parent
// folder. A folder sitting directly under the root has no author folder and
// gets the root's basename, which the validators treat as a placeholder.
func guessFromPath(root, path string) (author, title string) {
	title = filepath.Base(path)
	parent := filepath.Dir(path)
	if parent == root {
		return filepath.Base(root), title
	}
	return filepath.Base(parent), title
}

func (s *Scanner) upsertOne(c candidate) (isNew, queued bool, err error) {
	sourceType := database.SourceLibrary
	priority := priorityLibrary
	if c.fromWatch {
		sourceType = database.SourceWatchFolder
		priority = priorityWatch
	}

	b, err := s.store.UpsertBook(c.path, c.author, c.title, sourceType, c.media)
	if err != nil {
		return false, false, err
	}

	if b.ProfileJSON == "" && b.Status == database.StatusPending {
		isNew = true
		if blob, seedErr := seedProfile(c); seedErr == nil {
			b.ProfileJSON = blob
			if updateErr := s.store.UpdateBook(b); updateErr != nil {
				log.Printf("[WARN] seeding profile for %q failed: %v", c.path, updateErr)
			}
		}
	}

	if b.UserLocked || database.TerminalStatuses[b.Status] || b.Status == database.StatusPendingFix {
		return isNew, false, nil
	}
	if err := s.store.Enqueue(b.ID, priority, "scan"); err != nil {
		return isNew, false, err
	}
	return isNew, true, nil
}

// seedProfile records the path-derived evidence for a fresh book.
func seedProfile(c candidate) (string, error) {
	p := profile.New()
	if !profile.IsPlaceholderAuthor(c.author) {
		p.AddAuthor("path", c.author)
	}
	p.AddTitle("path", c.title)
	if n := audio.NarratorFromFolder(c.path); n != "" {
		p.Add(profile.FieldNarrator, "path", n)
	}
	p.Finalize()
	return p.Marshal()
}
