// file: internal/database/store.go
// version: 2.0.0
// guid: 9c0d1e2f-3a4b-5c6d-7e8f-9a0b1c2d3e4f

package database

import (
	"time"
)

// Book lifecycle states. Rescan may return any state to StatusPending.
const (
	StatusPending        = "pending"
	StatusVerified       = "verified"
	StatusPendingFix     = "pending_fix"
	StatusFixed          = "fixed"
	StatusNeedsAttention = "needs_attention"
	StatusError          = "error"
	StatusDuplicate      = "duplicate"
	StatusCorruptDest    = "corrupt_dest"
	StatusConflict       = "conflict"
	StatusSeriesFolder   = "series_folder"
	StatusMultiBookFiles = "multi_book_files"
)

// Source types for a book row.
const (
	SourceLibrary     = "library"
	SourceWatchFolder = "watch_folder"
)

// Media types for a book row.
const (
	MediaAudiobook = "audiobook"
	MediaEbook     = "ebook"
	MediaBoth      = "both"
)

// TerminalStatuses are states the layer engine must never pick up again
// within a cycle.
var TerminalStatuses = map[string]bool{
	StatusVerified:       true,
	StatusFixed:          true,
	StatusNeedsAttention: true,
	StatusSeriesFolder:   true,
	StatusMultiBookFiles: true,
	StatusDuplicate:      true,
	StatusCorruptDest:    true,
}

// Book is one discovered filesystem item.
type Book struct {
	ID                int64
	Path              string
	CurrentAuthor     string
	CurrentTitle      string
	Status            string
	ErrorMessage      string
	VerificationLayer int
	Confidence        int
	ProfileJSON       string
	UserLocked        bool
	SourceType        string
	MediaType         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// QueueEntry is one pending work unit; at most one per book.
type QueueEntry struct {
	ID       int64
	BookID   int64
	Priority int
	Reason   string
	AddedAt  time.Time
}

// HistoryEntry is one proposed or applied change.
type HistoryEntry struct {
	ID           int64
	BookID       int64
	OldAuthor    string
	OldTitle     string
	NewAuthor    string
	NewTitle     string
	NewNarrator  string
	NewSeries    string
	NewSeriesNum string
	NewYear      string
	NewEdition   string
	NewVariant   string
	OldPath      string
	NewPath      string
	Status       string
	ErrorMessage string
	EmbedStatus  string
	EmbedError   string
	HookStatus   string
	HookError    string
	FixedAt      time.Time
}

// DailyStats is one row per calendar day, reporting only.
type DailyStats struct {
	Day      string
	Scanned  int
	Queued   int
	Fixed    int
	Verified int
	APICalls int
}

// BatchItem is a detached snapshot handed to the layer engine. It carries no
// live connection; external calls happen against this copy and the results
// are written back in a single commit.
type BatchItem struct {
	Book    Book
	QueueID int64
	Reason  string
}
