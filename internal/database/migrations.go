// file: internal/database/migrations.go
// version: 2.0.0
// guid: 1e2f3a4b-5c6d-7e8f-9a0b-1c2d3e4f5a6b

package database

import (
	"log"
	"strings"
)

// migrations are additive column adds applied after table creation. SQLite
// has no ADD COLUMN IF NOT EXISTS, so "duplicate column" errors are expected
// on every run after the first and are swallowed.
var migrations = []string{
	`ALTER TABLE books ADD COLUMN source_type TEXT NOT NULL DEFAULT 'library'`,
	`ALTER TABLE books ADD COLUMN media_type TEXT NOT NULL DEFAULT 'audiobook'`,
	`ALTER TABLE books ADD COLUMN user_locked INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE books ADD COLUMN confidence INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE history ADD COLUMN new_narrator TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE history ADD COLUMN new_series TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE history ADD COLUMN new_series_num TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE history ADD COLUMN new_year TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE history ADD COLUMN new_edition TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE history ADD COLUMN new_variant TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE history ADD COLUMN embed_status TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE history ADD COLUMN embed_error TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE history ADD COLUMN hook_status TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE history ADD COLUMN hook_error TEXT NOT NULL DEFAULT ''`,
}

func (s *Store) migrate() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			log.Printf("[ERROR] migration failed: %s: %v", m, err)
			return err
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return strings.Contains(err.Error(), "duplicate column name")
}
