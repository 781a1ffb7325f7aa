// file: internal/database/sqlite_store.go
// version: 2.1.0
// guid: 0d1e2f3a-4b5c-6d7e-8f9a-0b1c2d3e4f5a

package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const bookSelectColumns = `
	id, path, current_author, current_title, status, error_message,
	verification_layer, confidence, profile_json, user_locked,
	source_type, media_type, created_at, updated_at
`

func scanBook(scanner rowScanner, b *Book) error {
	return scanner.Scan(
		&b.ID, &b.Path, &b.CurrentAuthor, &b.CurrentTitle, &b.Status,
		&b.ErrorMessage, &b.VerificationLayer, &b.Confidence, &b.ProfileJSON,
		&b.UserLocked, &b.SourceType, &b.MediaType, &b.CreatedAt, &b.UpdatedAt,
	)
}

// Store is the single-writer SQLite persistence layer for books, queue,
// history, and daily stats.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with write-ahead journaling
// and a 30 s busy timeout, then applies the schema and migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=30000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// Single writer; serialize everything through one connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		current_author TEXT NOT NULL DEFAULT '',
		current_title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT NOT NULL DEFAULT '',
		verification_layer INTEGER NOT NULL DEFAULT 0,
		confidence INTEGER NOT NULL DEFAULT 0,
		profile_json TEXT NOT NULL DEFAULT '',
		user_locked INTEGER NOT NULL DEFAULT 0,
		source_type TEXT NOT NULL DEFAULT 'library',
		media_type TEXT NOT NULL DEFAULT 'audiobook',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_books_path ON books(path);
	CREATE INDEX IF NOT EXISTS idx_books_status ON books(status);

	CREATE TABLE IF NOT EXISTS queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL UNIQUE,
		priority INTEGER NOT NULL DEFAULT 100,
		reason TEXT NOT NULL DEFAULT '',
		added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (book_id) REFERENCES books(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_queue_priority ON queue(priority, added_at);

	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL,
		old_author TEXT NOT NULL DEFAULT '',
		old_title TEXT NOT NULL DEFAULT '',
		new_author TEXT NOT NULL DEFAULT '',
		new_title TEXT NOT NULL DEFAULT '',
		new_narrator TEXT NOT NULL DEFAULT '',
		new_series TEXT NOT NULL DEFAULT '',
		new_series_num TEXT NOT NULL DEFAULT '',
		new_year TEXT NOT NULL DEFAULT '',
		new_edition TEXT NOT NULL DEFAULT '',
		new_variant TEXT NOT NULL DEFAULT '',
		old_path TEXT NOT NULL DEFAULT '',
		new_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending_fix',
		error_message TEXT NOT NULL DEFAULT '',
		embed_status TEXT NOT NULL DEFAULT '',
		embed_error TEXT NOT NULL DEFAULT '',
		hook_status TEXT NOT NULL DEFAULT '',
		hook_error TEXT NOT NULL DEFAULT '',
		fixed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_history_book_status ON history(book_id, status);

	CREATE TABLE IF NOT EXISTS stats (
		day TEXT PRIMARY KEY,
		scanned INTEGER NOT NULL DEFAULT 0,
		queued INTEGER NOT NULL DEFAULT 0,
		fixed INTEGER NOT NULL DEFAULT 0,
		verified INTEGER NOT NULL DEFAULT 0,
		api_calls INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// ---------------------------------------------------------------- books

// UpsertBook inserts a book by path or returns the existing row. New rows
// start pending at layer 0.
func (s *Store) UpsertBook(path, author, title, sourceType, mediaType string) (*Book, error) {
	existing, err := s.GetBookByPath(path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	res, err := s.db.Exec(`
		INSERT INTO books (path, current_author, current_title, source_type, media_type)
		VALUES (?, ?, ?, ?, ?)`,
		path, author, title, sourceType, mediaType)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetBook(id)
}

// GetBook fetches one book by id, nil when absent.
func (s *Store) GetBook(id int64) (*Book, error) {
	row := s.db.QueryRow(`SELECT `+bookSelectColumns+` FROM books WHERE id = ?`, id)
	var b Book
	if err := scanBook(row, &b); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// GetBookByPath fetches one book by absolute path, nil when absent.
func (s *Store) GetBookByPath(path string) (*Book, error) {
	row := s.db.QueryRow(`SELECT `+bookSelectColumns+` FROM books WHERE path = ?`, path)
	var b Book
	if err := scanBook(row, &b); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// UpdateBook writes back the mutable columns of a book row.
func (s *Store) UpdateBook(b *Book) error {
	_, err := s.db.Exec(`
		UPDATE books SET path = ?, current_author = ?, current_title = ?,
			status = ?, error_message = ?, verification_layer = ?,
			confidence = ?, profile_json = ?, user_locked = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		b.Path, b.CurrentAuthor, b.CurrentTitle, b.Status, b.ErrorMessage,
		b.VerificationLayer, b.Confidence, b.ProfileJSON, b.UserLocked, b.ID)
	return err
}

// AdvanceLayer raises verification_layer; it never lowers it.
func (s *Store) AdvanceLayer(bookID int64, layer int) error {
	_, err := s.db.Exec(`
		UPDATE books SET verification_layer = MAX(verification_layer, ?),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, layer, bookID)
	return err
}

// ListBooksByStatus returns all books in one status.
func (s *Store) ListBooksByStatus(status string) ([]Book, error) {
	rows, err := s.db.Query(`SELECT `+bookSelectColumns+` FROM books WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBooks(rows)
}

// ListBooksWithProfileMarker returns books whose serialized profile contains
// the given substring. Used for the requeue sweep.
func (s *Store) ListBooksWithProfileMarker(marker string) ([]Book, error) {
	rows, err := s.db.Query(`SELECT `+bookSelectColumns+` FROM books WHERE profile_json LIKE ? ORDER BY id`,
		"%"+marker+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBooks(rows)
}

func collectBooks(rows *sql.Rows) ([]Book, error) {
	var out []Book
	for rows.Next() {
		var b Book
		if err := scanBook(rows, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountBooks returns the total number of book rows.
func (s *Store) CountBooks() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM books`).Scan(&n)
	return n, err
}

// DeleteBook removes a book row; queue rows cascade.
func (s *Store) DeleteBook(id int64) error {
	_, err := s.db.Exec(`DELETE FROM books WHERE id = ?`, id)
	return err
}

// ResetForRescan moves every book back to pending at layer 0 and clears the
// queue. Only a rescan may lower verification_layer.
func (s *Store) ResetForRescan() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`
		UPDATE books SET status = ?, verification_layer = 0, error_message = '',
			updated_at = CURRENT_TIMESTAMP`, StatusPending); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM queue`); err != nil {
		return err
	}
	return tx.Commit()
}

// PruneMissing deletes book rows whose path no longer exists on disk,
// according to the supplied predicate.
func (s *Store) PruneMissing(exists func(path string) bool) (int, error) {
	rows, err := s.db.Query(`SELECT id, path FROM books`)
	if err != nil {
		return 0, err
	}
	type pair struct {
		id   int64
		path string
	}
	var gone []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.id, &p.path); err != nil {
			rows.Close()
			return 0, err
		}
		if !exists(p.path) {
			gone = append(gone, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, p := range gone {
		if err := s.DeleteBook(p.id); err != nil {
			return 0, err
		}
	}
	return len(gone), nil
}

// ---------------------------------------------------------------- queue

// Enqueue adds a queue entry for a book, replacing any existing one so the
// one-entry-per-book invariant holds.
func (s *Store) Enqueue(bookID int64, priority int, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO queue (book_id, priority, reason)
		VALUES (?, ?, ?)
		ON CONFLICT(book_id) DO UPDATE SET priority = excluded.priority, reason = excluded.reason`,
		bookID, priority, reason)
	return err
}

// Dequeue removes the queue entry for a book.
func (s *Store) Dequeue(bookID int64) error {
	_, err := s.db.Exec(`DELETE FROM queue WHERE book_id = ?`, bookID)
	return err
}

// QueueDepth returns the number of queued items.
func (s *Store) QueueDepth() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM queue`).Scan(&n)
	return n, err
}

// FetchBatch returns up to limit detached queue items whose book sits at one
// of the given verification layers, in (priority, added_at) order, skipping
// user-locked books and terminal statuses. The snapshot holds no connection.
func (s *Store) FetchBatch(layers []int, limit int) ([]BatchItem, error) {
	if len(layers) == 0 || limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT q.id, q.reason,
			books.id, books.path, books.current_author, books.current_title,
			books.status, books.error_message, books.verification_layer,
			books.confidence, books.profile_json, books.user_locked,
			books.source_type, books.media_type, books.created_at, books.updated_at
		FROM queue q JOIN books ON books.id = q.book_id
		WHERE books.user_locked = 0 AND books.verification_layer IN (`
	args := make([]interface{}, 0, len(layers)+1)
	for i, l := range layers {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, l)
	}
	query += `)
		AND books.status NOT IN ('verified','fixed','needs_attention','series_folder','multi_book_files','duplicate','corrupt_dest')
		ORDER BY q.priority, q.added_at
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BatchItem
	for rows.Next() {
		var item BatchItem
		dest := []interface{}{&item.QueueID, &item.Reason,
			&item.Book.ID, &item.Book.Path, &item.Book.CurrentAuthor,
			&item.Book.CurrentTitle, &item.Book.Status, &item.Book.ErrorMessage,
			&item.Book.VerificationLayer, &item.Book.Confidence,
			&item.Book.ProfileJSON, &item.Book.UserLocked,
			&item.Book.SourceType, &item.Book.MediaType,
			&item.Book.CreatedAt, &item.Book.UpdatedAt}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------- history

// RecordHistory inserts a history row. For pending_fix rows any earlier
// pending_fix for the same book is replaced, keeping at most one.
func (s *Store) RecordHistory(h *HistoryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if h.Status == StatusPendingFix {
		if _, err := tx.Exec(`DELETE FROM history WHERE book_id = ? AND status = ?`,
			h.BookID, StatusPendingFix); err != nil {
			return err
		}
	}
	res, err := tx.Exec(`
		INSERT INTO history (book_id, old_author, old_title, new_author, new_title,
			new_narrator, new_series, new_series_num, new_year, new_edition, new_variant,
			old_path, new_path, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.BookID, h.OldAuthor, h.OldTitle, h.NewAuthor, h.NewTitle,
		h.NewNarrator, h.NewSeries, h.NewSeriesNum, h.NewYear, h.NewEdition,
		h.NewVariant, h.OldPath, h.NewPath, h.Status, h.ErrorMessage)
	if err != nil {
		return err
	}
	h.ID, _ = res.LastInsertId()
	return tx.Commit()
}

// GetPendingFix returns the pending_fix row for a book, nil when absent.
func (s *Store) GetPendingFix(bookID int64) (*HistoryEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, book_id, old_author, old_title, new_author, new_title,
			new_narrator, new_series, new_series_num, new_year, new_edition,
			new_variant, old_path, new_path, status, error_message,
			embed_status, embed_error, hook_status, hook_error, fixed_at
		FROM history WHERE book_id = ? AND status = ?`, bookID, StatusPendingFix)
	var h HistoryEntry
	err := row.Scan(&h.ID, &h.BookID, &h.OldAuthor, &h.OldTitle, &h.NewAuthor,
		&h.NewTitle, &h.NewNarrator, &h.NewSeries, &h.NewSeriesNum, &h.NewYear,
		&h.NewEdition, &h.NewVariant, &h.OldPath, &h.NewPath, &h.Status,
		&h.ErrorMessage, &h.EmbedStatus, &h.EmbedError, &h.HookStatus,
		&h.HookError, &h.FixedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// CountHistoryByStatus returns how many history rows a book has in a status.
func (s *Store) CountHistoryByStatus(bookID int64, status string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM history WHERE book_id = ? AND status = ?`,
		bookID, status).Scan(&n)
	return n, err
}

// ApplyFix records an applied rename in one transaction: prior pending_fix
// and fixed rows for the book are deleted, the new fixed row inserted, the
// book row updated, and any book row already holding the new path merged
// away. The caller performs the filesystem move before calling this.
func (s *Store) ApplyFix(h *HistoryEntry, newAuthor, newTitle, profileJSON string, confidence int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM history WHERE book_id = ? AND status IN (?, ?)`,
		h.BookID, StatusPendingFix, StatusFixed); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO history (book_id, old_author, old_title, new_author, new_title,
			new_narrator, new_series, new_series_num, new_year, new_edition, new_variant,
			old_path, new_path, status, fixed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		h.BookID, h.OldAuthor, h.OldTitle, h.NewAuthor, h.NewTitle,
		h.NewNarrator, h.NewSeries, h.NewSeriesNum, h.NewYear, h.NewEdition,
		h.NewVariant, h.OldPath, h.NewPath, StatusFixed); err != nil {
		return err
	}

	// Merge semantics: another book row already at the destination path
	// loses to the row being fixed.
	var loserID int64
	err = tx.QueryRow(`SELECT id FROM books WHERE path = ? AND id != ?`, h.NewPath, h.BookID).Scan(&loserID)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil {
		log.Printf("[INFO] merging book %d into %d at %s", loserID, h.BookID, h.NewPath)
		if _, err := tx.Exec(`DELETE FROM books WHERE id = ?`, loserID); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`
		UPDATE books SET path = ?, current_author = ?, current_title = ?,
			status = ?, error_message = '', confidence = ?, profile_json = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		h.NewPath, newAuthor, newTitle, StatusFixed, confidence, profileJSON, h.BookID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM queue WHERE book_id = ?`, h.BookID); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------- stats

// BumpStats increments counters on today's stats row.
func (s *Store) BumpStats(scanned, queued, fixed, verified, apiCalls int) error {
	day := time.Now().Format("2006-01-02")
	_, err := s.db.Exec(`
		INSERT INTO stats (day, scanned, queued, fixed, verified, api_calls)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			scanned = scanned + excluded.scanned,
			queued = queued + excluded.queued,
			fixed = fixed + excluded.fixed,
			verified = verified + excluded.verified,
			api_calls = api_calls + excluded.api_calls`,
		day, scanned, queued, fixed, verified, apiCalls)
	return err
}

// StatsForDay returns the stats row for a day ("2006-01-02"), zero when absent.
func (s *Store) StatsForDay(day string) (*DailyStats, error) {
	row := s.db.QueryRow(`SELECT day, scanned, queued, fixed, verified, api_calls FROM stats WHERE day = ?`, day)
	var d DailyStats
	err := row.Scan(&d.Day, &d.Scanned, &d.Queued, &d.Fixed, &d.Verified, &d.APICalls)
	if err == sql.ErrNoRows {
		return &DailyStats{Day: day}, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
