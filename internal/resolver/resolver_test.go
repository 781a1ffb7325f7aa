// file: internal/resolver/resolver_test.go
// version: 1.1.0
// guid: 8d9e0f1a-2b3c-4d5e-6f7a-8b9c0d1e2f3a

package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/library-manager/internal/config"
	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/pathbuilder"
)

func testConfig(root string) *config.Config {
	return &config.Config{
		LibraryPaths:        []string{root},
		NamingFormat:        config.NamingAuthorSlashTitle,
		ABSNarratorGrouping: true,
		PreferredLanguage:   "en",
		AutoFix:             true,
	}
}

func writeTrack(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestResolveFreeTarget(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "Messy Author", "messy title")
	writeTrack(t, filepath.Join(src, "01.mp3"), 100000)

	r := New(testConfig(root))
	out, err := r.Resolve(root, src, pathbuilder.Metadata{Author: "Real Author", Title: "Real Title"})
	require.NoError(t, err)
	assert.Equal(t, ActionMove, out.Action)
	assert.Equal(t, filepath.Join(root, "Real Author", "Real Title"), out.TargetPath)
}

func TestResolveIdenticalDuplicate(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "AuthorA", "Title (64kbps)")
	dst := filepath.Join(root, "AuthorA", "Title")
	for i := 1; i <= 12; i++ {
		writeTrack(t, filepath.Join(src, fmt.Sprintf("t%02d.mp3", i)), 100000)
		writeTrack(t, filepath.Join(dst, fmt.Sprintf("t%02d.mp3", i)), 100000)
	}

	r := New(testConfig(root))
	out, err := r.Resolve(root, src, pathbuilder.Metadata{Author: "AuthorA", Title: "Title"})
	require.NoError(t, err)
	assert.Equal(t, ActionDuplicate, out.Action)
	assert.Contains(t, out.Message, "12 files")
}

func TestResolveVersionBGeneration(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "AuthorA", "Title incoming")
	dst := filepath.Join(root, "AuthorA", "Title")
	// Overlap well under the same-book threshold.
	for i := 1; i <= 6; i++ {
		writeTrack(t, filepath.Join(src, fmt.Sprintf("part%d.mp3", i)), 100000)
	}
	for i := 5; i <= 10; i++ {
		writeTrack(t, filepath.Join(dst, fmt.Sprintf("part%d.mp3", i)), 100000)
	}

	r := New(testConfig(root))
	out, err := r.Resolve(root, src, pathbuilder.Metadata{Author: "AuthorA", Title: "Title"})
	require.NoError(t, err)
	assert.Equal(t, ActionMove, out.Action)
	assert.Equal(t, filepath.Join(root, "AuthorA", "Title [Version B]"), out.TargetPath)
	assert.Equal(t, "Version B", out.Variant)
}

func TestResolveVersionSkipsTakenLetters(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "AuthorA", "Title new")
	dst := filepath.Join(root, "AuthorA", "Title")
	writeTrack(t, filepath.Join(src, "a.mp3"), 100000)
	writeTrack(t, filepath.Join(dst, "b.mp3"), 100000)
	writeTrack(t, filepath.Join(root, "AuthorA", "Title [Version B]", "c.mp3"), 100000)

	r := New(testConfig(root))
	out, err := r.Resolve(root, src, pathbuilder.Metadata{Author: "AuthorA", Title: "Title"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "AuthorA", "Title [Version C]"), out.TargetPath)
}

func TestResolveCorruptDestinationYieldsValidCopy(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "AuthorA", "Title good")
	dst := filepath.Join(root, "AuthorA", "Title")
	writeTrack(t, filepath.Join(src, "01.mp3"), 100000)
	writeTrack(t, filepath.Join(dst, "01.mp3"), 10)

	r := New(testConfig(root))
	out, err := r.Resolve(root, src, pathbuilder.Metadata{Author: "AuthorA", Title: "Title"})
	require.NoError(t, err)
	assert.Equal(t, ActionMove, out.Action)
	assert.Equal(t, filepath.Join(root, "AuthorA", "Title [Valid Copy]"), out.TargetPath)
}

func TestResolveCorruptSourceIsDuplicate(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "AuthorA", "Title bad")
	dst := filepath.Join(root, "AuthorA", "Title")
	writeTrack(t, filepath.Join(src, "01.mp3"), 10)
	writeTrack(t, filepath.Join(dst, "01.mp3"), 100000)

	r := New(testConfig(root))
	out, err := r.Resolve(root, src, pathbuilder.Metadata{Author: "AuthorA", Title: "Title"})
	require.NoError(t, err)
	assert.Equal(t, ActionDuplicate, out.Action)
	assert.Contains(t, out.Message, "source files corrupt")
}

func TestResolveDistinguishesByYear(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "AuthorA", "incoming")
	dst := filepath.Join(root, "AuthorA", "Title")
	writeTrack(t, filepath.Join(src, "x.mp3"), 100000)
	writeTrack(t, filepath.Join(dst, "y.mp3"), 100000)

	r := New(testConfig(root))
	out, err := r.Resolve(root, src, pathbuilder.Metadata{Author: "AuthorA", Title: "Title", Year: "1999"})
	require.NoError(t, err)
	assert.Equal(t, ActionMove, out.Action)
	assert.Equal(t, filepath.Join(root, "AuthorA", "Title (1999)"), out.TargetPath)
}

func openTestStore(t *testing.T) *database.Store {
	t.Helper()
	s, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApplyMovesAndRecordsFixed(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "messy author", "messy title")
	writeTrack(t, filepath.Join(src, "01.mp3"), 100000)

	store := openTestStore(t)
	book, err := store.UpsertBook(src, "messy author", "messy title",
		database.SourceLibrary, database.MediaAudiobook)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(book.ID, 100, "scan"))

	cfg := testConfig(root)
	a := NewApplier(New(cfg), store)
	require.NoError(t, a.Apply(book, pathbuilder.Metadata{Author: "Real Author", Title: "Real Title"}, "{}", 92))

	newPath := filepath.Join(root, "Real Author", "Real Title")
	_, statErr := os.Stat(filepath.Join(newPath, "01.mp3"))
	assert.NoError(t, statErr)

	got, err := store.GetBook(book.ID)
	require.NoError(t, err)
	assert.Equal(t, newPath, got.Path)
	assert.Equal(t, database.StatusFixed, got.Status)

	fixed, _ := store.CountHistoryByStatus(book.ID, database.StatusFixed)
	assert.Equal(t, 1, fixed)

	// Old author parent folder is cleaned up once empty.
	_, statErr = os.Stat(filepath.Join(root, "messy author"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplySeriesFolderIsTerminal(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "AuthorA", "The Saga")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "01 - First"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "Book 2"), 0o755))

	store := openTestStore(t)
	book, _ := store.UpsertBook(src, "AuthorA", "The Saga",
		database.SourceLibrary, database.MediaAudiobook)
	require.NoError(t, store.Enqueue(book.ID, 100, "scan"))

	a := NewApplier(New(testConfig(root)), store)
	require.NoError(t, a.Apply(book, pathbuilder.Metadata{Author: "AuthorA", Title: "The Saga"}, "{}", 90))

	got, _ := store.GetBook(book.ID)
	assert.Equal(t, database.StatusSeriesFolder, got.Status)
	depth, _ := store.QueueDepth()
	assert.Equal(t, 0, depth)
	_, statErr := os.Stat(src)
	assert.NoError(t, statErr, "series folder is never moved")
}

func TestApplyMultibookFilesIsTerminal(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "AuthorA", "Collection")
	writeTrack(t, filepath.Join(src, "Book 1 - Dawn.mp3"), 100000)
	writeTrack(t, filepath.Join(src, "Book 2 - Dusk.mp3"), 100000)

	store := openTestStore(t)
	book, _ := store.UpsertBook(src, "AuthorA", "Collection",
		database.SourceLibrary, database.MediaAudiobook)

	a := NewApplier(New(testConfig(root)), store)
	require.NoError(t, a.Apply(book, pathbuilder.Metadata{Author: "AuthorA", Title: "Collection"}, "{}", 90))

	got, _ := store.GetBook(book.ID)
	assert.Equal(t, database.StatusMultiBookFiles, got.Status)
}

func TestApplyUnsafeMetadataRecordsError(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "AuthorA", "Title")
	writeTrack(t, filepath.Join(src, "01.mp3"), 100000)

	store := openTestStore(t)
	book, _ := store.UpsertBook(src, "AuthorA", "Title",
		database.SourceLibrary, database.MediaAudiobook)

	a := NewApplier(New(testConfig(root)), store)
	require.NoError(t, a.Apply(book, pathbuilder.Metadata{Author: "..", Title: "Title"}, "{}", 90))

	got, _ := store.GetBook(book.ID)
	assert.Equal(t, database.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "Path validation failed")
	_, statErr := os.Stat(src)
	assert.NoError(t, statErr, "nothing moved on validation failure")
}
