// file: internal/scanner/scanner_test.go
// version: 2.0.0
// guid: 4d5e6f7a-8b9c-0d1e-2f3a-4b5c6d7e8f9a

package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/library-manager/internal/config"
	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/profile"
)

func testSetup(t *testing.T) (*Scanner, *database.Store, string) {
	t.Helper()
	lib := t.TempDir()
	s, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	cfg := &config.Config{LibraryPaths: []string{lib}}
	return New(cfg, s), s, lib
}

func mkBook(t *testing.T, dir string, files ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), make([]byte, 8192), 0o644))
	}
}

func TestScanAllDiscoversBookFolders(t *testing.T) {
	sc, store, lib := testSetup(t)

	mkBook(t, filepath.Join(lib, "Brandon Sanderson", "The Final Empire"), "01.mp3", "02.mp3")
	mkBook(t, filepath.Join(lib, "Andy Weir", "Project Hail Mary"), "book.m4b")
	mkBook(t, filepath.Join(lib, "Andy Weir", "The Martian"), "martian.epub")
	require.NoError(t, os.MkdirAll(filepath.Join(lib, "Empty Author"), 0o755))

	res, err := sc.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 3, res.New)
	assert.Equal(t, 3, res.Queued)

	b, err := store.GetBookByPath(filepath.Join(lib, "Brandon Sanderson", "The Final Empire"))
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "Brandon Sanderson", b.CurrentAuthor)
	assert.Equal(t, "The Final Empire", b.CurrentTitle)
	assert.Equal(t, database.MediaAudiobook, b.MediaType)
	assert.Equal(t, database.SourceLibrary, b.SourceType)

	p, err := profile.Parse(b.ProfileJSON)
	require.NoError(t, err)
	assert.Equal(t, "Brandon Sanderson", p.Get(profile.FieldAuthor))

	eb, err := store.GetBookByPath(filepath.Join(lib, "Andy Weir", "The Martian"))
	require.NoError(t, err)
	require.NotNil(t, eb)
	assert.Equal(t, database.MediaEbook, eb.MediaType)
}

func TestScanSkipsSystemFoldersAndDiscSubfolders(t *testing.T) {
	sc, store, lib := testSetup(t)

	mkBook(t, filepath.Join(lib, "@eaDir", "Thumbs"), "x.mp3")
	book := filepath.Join(lib, "Author", "Long Book")
	mkBook(t, filepath.Join(book, "CD1"), "01.mp3")
	mkBook(t, filepath.Join(book, "CD2"), "01.mp3")
	require.NoError(t, os.WriteFile(filepath.Join(book, "intro.mp3"), make([]byte, 8192), 0o644))

	res, err := sc.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned, "disc subfolders belong to their book and @eaDir is skipped")

	b, err := store.GetBookByPath(book)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "Long Book", b.CurrentTitle)
}

func TestScanDirectlyUnderRootGetsPlaceholderAuthor(t *testing.T) {
	sc, store, lib := testSetup(t)
	mkBook(t, filepath.Join(lib, "Random Download"), "a.mp3")

	_, err := sc.ScanAll(context.Background())
	require.NoError(t, err)

	b, err := store.GetBookByPath(filepath.Join(lib, "Random Download"))
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, filepath.Base(lib), b.CurrentAuthor)

	p, err := profile.Parse(b.ProfileJSON)
	require.NoError(t, err)
	assert.Empty(t, p.Get(profile.FieldAuthor),
		"the root basename is a placeholder and must not enter the profile")
}

func TestScanDoesNotRequeueSettledBooks(t *testing.T) {
	sc, store, lib := testSetup(t)
	path := filepath.Join(lib, "Author", "Book")
	mkBook(t, path, "01.mp3")

	_, err := sc.ScanAll(context.Background())
	require.NoError(t, err)

	b, err := store.GetBookByPath(path)
	require.NoError(t, err)
	b.Status = database.StatusVerified
	require.NoError(t, store.UpdateBook(b))
	require.NoError(t, store.Dequeue(b.ID))

	res, err := sc.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Queued)

	depth, err := store.QueueDepth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestScanPrunesMissingFolders(t *testing.T) {
	sc, store, lib := testSetup(t)
	path := filepath.Join(lib, "Author", "Gone")
	mkBook(t, path, "01.mp3")

	_, err := sc.ScanAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(path))

	res, err := sc.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pruned)

	n, err := store.CountBooks()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRescanResetsState(t *testing.T) {
	sc, store, lib := testSetup(t)
	path := filepath.Join(lib, "Author", "Book")
	mkBook(t, path, "01.mp3")

	_, err := sc.ScanAll(context.Background())
	require.NoError(t, err)

	b, err := store.GetBookByPath(path)
	require.NoError(t, err)
	b.Status = database.StatusNeedsAttention
	require.NoError(t, store.UpdateBook(b))
	require.NoError(t, store.AdvanceLayer(b.ID, 4))

	_, err = sc.Rescan(context.Background())
	require.NoError(t, err)

	got, err := store.GetBook(b.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusPending, got.Status)
	assert.Equal(t, 0, got.VerificationLayer)
}

// id3WithComposer renders a minimal ID3v2.3 tag whose composer frame holds
// the narrator, the usual audiobook-rip convention.
func id3WithComposer(narrator string) []byte {
	body := append([]byte{0}, []byte(narrator)...) // ISO-8859-1 text
	frame := []byte("TCOM")
	frame = append(frame, byte(len(body)>>24), byte(len(body)>>16), byte(len(body)>>8), byte(len(body)), 0, 0)
	frame = append(frame, body...)
	size := len(frame)
	tag := []byte{'I', 'D', '3', 3, 0, 0,
		byte(size >> 21 & 0x7f), byte(size >> 14 & 0x7f), byte(size >> 7 & 0x7f), byte(size & 0x7f)}
	return append(tag, frame...)
}

func TestScanSeedsNarratorFromAudioTags(t *testing.T) {
	sc, store, lib := testSetup(t)
	dir := filepath.Join(lib, "Andy Weir", "Project Hail Mary")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.mp3"), id3WithComposer("Ray Porter"), 0o644))

	_, err := sc.ScanAll(context.Background())
	require.NoError(t, err)

	b, err := store.GetBookByPath(dir)
	require.NoError(t, err)
	require.NotNil(t, b)

	p, err := profile.Parse(b.ProfileJSON)
	require.NoError(t, err)
	assert.Equal(t, "Ray Porter", p.Get(profile.FieldNarrator))
}

func TestClassifyFolder(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", classifyFolder(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp3"), nil, 0o644))
	assert.Equal(t, database.MediaAudiobook, classifyFolder(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.epub"), nil, 0o644))
	assert.Equal(t, database.MediaBoth, classifyFolder(dir))
}
