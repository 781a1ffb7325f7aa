// file: internal/database/sqlite_store_test.go
// version: 2.0.0
// guid: 2f3a4b5c-6d7e-8f9a-0b1c-2d3e4f5a6b7c

package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func todayKey() string { return time.Now().Format("2006-01-02") }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertBookIsIdempotentByPath(t *testing.T) {
	s := openTestStore(t)

	b1, err := s.UpsertBook("/lib/Author/Title", "Author", "Title", SourceLibrary, MediaAudiobook)
	require.NoError(t, err)
	b2, err := s.UpsertBook("/lib/Author/Title", "Other", "Other", SourceLibrary, MediaAudiobook)
	require.NoError(t, err)

	assert.Equal(t, b1.ID, b2.ID)
	assert.Equal(t, "Author", b2.CurrentAuthor, "second upsert must not overwrite")

	n, err := s.CountBooks()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueueKeepsOneEntryPerBook(t *testing.T) {
	s := openTestStore(t)
	b, err := s.UpsertBook("/lib/A/T", "A", "T", SourceLibrary, MediaAudiobook)
	require.NoError(t, err)

	require.NoError(t, s.Enqueue(b.ID, 100, "scan"))
	require.NoError(t, s.Enqueue(b.ID, 10, "rescan"))

	depth, err := s.QueueDepth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	items, err := s.FetchBatch([]int{0}, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "rescan", items[0].Reason)
}

func TestFetchBatchOrderAndFilters(t *testing.T) {
	s := openTestStore(t)

	locked, _ := s.UpsertBook("/lib/L/T", "L", "T", SourceLibrary, MediaAudiobook)
	locked.UserLocked = true
	require.NoError(t, s.UpdateBook(locked))
	require.NoError(t, s.Enqueue(locked.ID, 1, "locked"))

	terminal, _ := s.UpsertBook("/lib/V/T", "V", "T", SourceLibrary, MediaAudiobook)
	terminal.Status = StatusVerified
	require.NoError(t, s.UpdateBook(terminal))
	require.NoError(t, s.Enqueue(terminal.ID, 1, "done"))

	low, _ := s.UpsertBook("/lib/B/T", "B", "T", SourceLibrary, MediaAudiobook)
	require.NoError(t, s.Enqueue(low.ID, 50, "later"))
	high, _ := s.UpsertBook("/lib/C/T", "C", "T", SourceLibrary, MediaAudiobook)
	require.NoError(t, s.Enqueue(high.ID, 10, "sooner"))

	items, err := s.FetchBatch([]int{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, items, 2, "locked and terminal books are skipped")
	assert.Equal(t, high.ID, items[0].Book.ID, "lower priority value runs first")
	assert.Equal(t, low.ID, items[1].Book.ID)
}

func TestAdvanceLayerNeverDecreases(t *testing.T) {
	s := openTestStore(t)
	b, _ := s.UpsertBook("/lib/A/T", "A", "T", SourceLibrary, MediaAudiobook)

	require.NoError(t, s.AdvanceLayer(b.ID, 3))
	require.NoError(t, s.AdvanceLayer(b.ID, 2))

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.VerificationLayer)
}

func TestSinglePendingFixPerBook(t *testing.T) {
	s := openTestStore(t)
	b, _ := s.UpsertBook("/lib/A/T", "A", "T", SourceLibrary, MediaAudiobook)

	first := &HistoryEntry{BookID: b.ID, NewAuthor: "A1", NewTitle: "T1", Status: StatusPendingFix}
	require.NoError(t, s.RecordHistory(first))
	second := &HistoryEntry{BookID: b.ID, NewAuthor: "A2", NewTitle: "T2", Status: StatusPendingFix}
	require.NoError(t, s.RecordHistory(second))

	n, err := s.CountHistoryByStatus(b.ID, StatusPendingFix)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h, err := s.GetPendingFix(b.ID)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "A2", h.NewAuthor, "newer pending fix replaces the older")
}

func TestApplyFixDeletesPriorRowsAndMergesPathConflict(t *testing.T) {
	s := openTestStore(t)
	b, _ := s.UpsertBook("/lib/A/Old Title", "A", "Old Title", SourceLibrary, MediaAudiobook)
	squatter, _ := s.UpsertBook("/lib/A/New Title", "A", "New Title", SourceLibrary, MediaAudiobook)
	require.NoError(t, s.Enqueue(b.ID, 100, "scan"))

	pending := &HistoryEntry{
		BookID: b.ID, OldAuthor: "A", OldTitle: "Old Title",
		NewAuthor: "A", NewTitle: "New Title",
		OldPath: "/lib/A/Old Title", NewPath: "/lib/A/New Title",
		Status: StatusPendingFix,
	}
	require.NoError(t, s.RecordHistory(pending))
	require.NoError(t, s.ApplyFix(pending, "A", "New Title", `{"author":"A"}`, 90))

	pendingCount, _ := s.CountHistoryByStatus(b.ID, StatusPendingFix)
	assert.Equal(t, 0, pendingCount, "apply removes the pending row")
	fixedCount, _ := s.CountHistoryByStatus(b.ID, StatusFixed)
	assert.Equal(t, 1, fixedCount)

	got, err := s.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "/lib/A/New Title", got.Path)
	assert.Equal(t, StatusFixed, got.Status)
	assert.Equal(t, 90, got.Confidence)

	merged, err := s.GetBook(squatter.ID)
	require.NoError(t, err)
	assert.Nil(t, merged, "book row already at the destination path is merged away")

	depth, _ := s.QueueDepth()
	assert.Equal(t, 0, depth)
}

func TestApplyFixIsRepeatableWithoutRowGrowth(t *testing.T) {
	s := openTestStore(t)
	b, _ := s.UpsertBook("/lib/A/T1", "A", "T1", SourceLibrary, MediaAudiobook)

	h1 := &HistoryEntry{BookID: b.ID, OldPath: "/lib/A/T1", NewPath: "/lib/A/T2",
		NewAuthor: "A", NewTitle: "T2", Status: StatusPendingFix}
	require.NoError(t, s.RecordHistory(h1))
	require.NoError(t, s.ApplyFix(h1, "A", "T2", "{}", 80))

	h2 := &HistoryEntry{BookID: b.ID, OldPath: "/lib/A/T2", NewPath: "/lib/A/T3",
		NewAuthor: "A", NewTitle: "T3", Status: StatusPendingFix}
	require.NoError(t, s.RecordHistory(h2))
	require.NoError(t, s.ApplyFix(h2, "A", "T3", "{}", 85))

	fixedCount, _ := s.CountHistoryByStatus(b.ID, StatusFixed)
	assert.Equal(t, 1, fixedCount, "older fixed rows are removed before inserting")
}

func TestResetForRescan(t *testing.T) {
	s := openTestStore(t)
	b, _ := s.UpsertBook("/lib/A/T", "A", "T", SourceLibrary, MediaAudiobook)
	b.Status = StatusNeedsAttention
	b.VerificationLayer = 4
	b.ErrorMessage = "something"
	require.NoError(t, s.UpdateBook(b))
	require.NoError(t, s.Enqueue(b.ID, 100, "x"))

	require.NoError(t, s.ResetForRescan())

	got, _ := s.GetBook(b.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.VerificationLayer)
	assert.Empty(t, got.ErrorMessage)
	depth, _ := s.QueueDepth()
	assert.Equal(t, 0, depth)
}

func TestBumpStatsAccumulates(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.BumpStats(5, 2, 0, 1, 3))
	require.NoError(t, s.BumpStats(1, 0, 1, 0, 2))

	d, err := s.StatsForDay(todayKey())
	require.NoError(t, err)
	assert.Equal(t, 6, d.Scanned)
	assert.Equal(t, 2, d.Queued)
	assert.Equal(t, 1, d.Fixed)
	assert.Equal(t, 1, d.Verified)
	assert.Equal(t, 5, d.APICalls)
}

func TestListBooksWithProfileMarker(t *testing.T) {
	s := openTestStore(t)
	b, _ := s.UpsertBook("/lib/A/T", "A", "T", SourceLibrary, MediaAudiobook)
	b.ProfileJSON = `{"sl_requeue":{"reason":"live_scrape"}}`
	require.NoError(t, s.UpdateBook(b))
	_, _ = s.UpsertBook("/lib/B/T", "B", "T", SourceLibrary, MediaAudiobook)

	books, err := s.ListBooksWithProfileMarker("sl_requeue")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, b.ID, books[0].ID)
}
