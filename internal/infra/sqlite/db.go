// Package sqlite persists the engine's seed list across restarts.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a single sqlite connection. Grounded on the teacher's
// infra/sqlite package (phase3.go/phase4.go): a thin db.db handle plus a
// migration-statement-slice convention, generalized here into an explicit
// Open/Migrate pair since this pack's retrieval does not carry the
// teacher's own base DB type.
type DB struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// every migration statement in order. path may be ":memory:" for tests.
func Open(path string, migrations []string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	db := &DB{db: sqlDB}
	if err := db.migrate(migrations); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate(migrations []string) error {
	for _, stmt := range migrations {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (db *DB) Close() error { return db.db.Close() }
