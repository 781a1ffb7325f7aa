// file: internal/resolver/apply.go
// version: 1.2.0
// guid: 7c8d9e0f-1a2b-3c4d-5e6f-7a8b9c0d1e2f

package resolver

import (
	"fmt"
	"log"

	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/fileops"
	"github.com/jdfalk/library-manager/internal/metrics"
	"github.com/jdfalk/library-manager/internal/pathbuilder"
)

// Applier executes resolved renames against the filesystem and the store.
type Applier struct {
	resolver *Resolver
	store    *database.Store
}

// NewApplier creates an Applier sharing the resolver's configuration.
func NewApplier(r *Resolver, store *database.Store) *Applier {
	return &Applier{resolver: r, store: store}
}

// Apply renames book's folder according to meta. It runs the structural
// guards first, then resolves collisions, moves the folder, and records the
// outcome. The move happens before the store transaction so a crash between
// the two leaves a findable folder and a stale row, never a lost book.
func (a *Applier) Apply(book *database.Book, meta pathbuilder.Metadata, profileJSON string, confidence int) error {
	// Structural guards: a folder holding several books is never renamed
	// as a single one.
	if fileops.IsSeriesFolder(book.Path) {
		return a.terminal(book, database.StatusSeriesFolder,
			"folder contains multiple book subfolders")
	}
	names, err := fileops.CountAudioFiles(book.Path)
	if err == nil && len(names) >= 2 {
		if fileops.DetectMultibookVsChapters(names) == fileops.StructureMultibook {
			return a.terminal(book, database.StatusMultiBookFiles,
				"folder contains multiple books as separate files")
		}
	}

	root := pathbuilder.LibraryRootFor(a.resolver.cfg, book.Path,
		book.SourceType == database.SourceWatchFolder)
	if root == "" {
		return a.recordError(book, "no library root configured")
	}

	outcome, err := a.resolver.Resolve(root, book.Path, meta)
	if err != nil {
		return a.recordError(book, "Path validation failed - unsafe author/title: "+err.Error())
	}

	switch outcome.Action {
	case ActionDuplicate:
		return a.terminalWithPath(book, database.StatusDuplicate, outcome)
	case ActionCorruptDest:
		return a.terminalWithPath(book, database.StatusCorruptDest, outcome)
	case ActionConflict:
		return a.terminalWithPath(book, database.StatusConflict, outcome)
	}

	if outcome.TargetPath == book.Path {
		// Already in place; just settle the row.
		book.Status = database.StatusVerified
		book.Confidence = confidence
		book.ProfileJSON = profileJSON
		if err := a.store.UpdateBook(book); err != nil {
			return err
		}
		return a.store.Dequeue(book.ID)
	}

	oldPath := book.Path
	if err := fileops.MoveFolder(oldPath, outcome.TargetPath); err != nil {
		return a.recordError(book, fmt.Sprintf("move failed: %v", err))
	}

	h := &database.HistoryEntry{
		BookID:       book.ID,
		OldAuthor:    book.CurrentAuthor,
		OldTitle:     book.CurrentTitle,
		NewAuthor:    meta.Author,
		NewTitle:     meta.Title,
		NewNarrator:  firstNonEmpty(outcome.Narrator, meta.Narrator),
		NewSeries:    meta.Series,
		NewSeriesNum: meta.SeriesNum,
		NewYear:      meta.Year,
		NewEdition:   meta.Edition,
		NewVariant:   firstNonEmpty(outcome.Variant, meta.Variant),
		OldPath:      oldPath,
		NewPath:      outcome.TargetPath,
	}
	if err := a.store.ApplyFix(h, meta.Author, meta.Title, profileJSON, confidence); err != nil {
		return fmt.Errorf("record fix after move: %w", err)
	}
	metrics.IncFixApplied()
	fileops.RemoveEmptyParent(oldPath, root)
	log.Printf("[INFO] fixed %q -> %q", oldPath, outcome.TargetPath)
	return a.store.BumpStats(0, 0, 1, 0, 0)
}

// RecordPending writes a pending_fix row without touching the filesystem.
func (a *Applier) RecordPending(book *database.Book, meta pathbuilder.Metadata, reason string) error {
	root := pathbuilder.LibraryRootFor(a.resolver.cfg, book.Path,
		book.SourceType == database.SourceWatchFolder)
	newPath := ""
	if root != "" {
		if target, err := pathbuilder.New(a.resolver.cfg).Build(root, meta); err == nil {
			newPath = target
		}
	}
	h := &database.HistoryEntry{
		BookID:       book.ID,
		OldAuthor:    book.CurrentAuthor,
		OldTitle:     book.CurrentTitle,
		NewAuthor:    meta.Author,
		NewTitle:     meta.Title,
		NewNarrator:  meta.Narrator,
		NewSeries:    meta.Series,
		NewSeriesNum: meta.SeriesNum,
		NewYear:      meta.Year,
		NewEdition:   meta.Edition,
		NewVariant:   meta.Variant,
		OldPath:      book.Path,
		NewPath:      newPath,
		Status:       database.StatusPendingFix,
		ErrorMessage: reason,
	}
	if err := a.store.RecordHistory(h); err != nil {
		return err
	}
	book.Status = database.StatusPendingFix
	if err := a.store.UpdateBook(book); err != nil {
		return err
	}
	return a.store.Dequeue(book.ID)
}

func (a *Applier) terminal(book *database.Book, status, msg string) error {
	book.Status = status
	book.ErrorMessage = msg
	if err := a.store.UpdateBook(book); err != nil {
		return err
	}
	if err := a.store.RecordHistory(&database.HistoryEntry{
		BookID: book.ID, OldAuthor: book.CurrentAuthor, OldTitle: book.CurrentTitle,
		OldPath: book.Path, Status: status, ErrorMessage: msg,
	}); err != nil {
		return err
	}
	return a.store.Dequeue(book.ID)
}

func (a *Applier) terminalWithPath(book *database.Book, status string, outcome *Outcome) error {
	book.Status = status
	book.ErrorMessage = outcome.Message
	if err := a.store.UpdateBook(book); err != nil {
		return err
	}
	if err := a.store.RecordHistory(&database.HistoryEntry{
		BookID: book.ID, OldAuthor: book.CurrentAuthor, OldTitle: book.CurrentTitle,
		OldPath: book.Path, NewPath: outcome.TargetPath,
		Status: status, ErrorMessage: outcome.Message,
	}); err != nil {
		return err
	}
	return a.store.Dequeue(book.ID)
}

func (a *Applier) recordError(book *database.Book, msg string) error {
	return a.terminal(book, database.StatusError, msg)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
