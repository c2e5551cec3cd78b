package sqlite

import (
	"database/sql"

	"github.com/google/uuid"
)

// ─── Seed-List Persistence ───────────────────────────────────────────────────
// Grounded on phase3.go's UpsertRegionStatus/GetRegionStatus/ListRegionStatuses
// trio (INSERT ... ON CONFLICT upsert, point lookup, full scan), applied to
// the engine's known-peer list instead of region health rows, so a daemon
// restart can re-seed its member table from the seeds configured on earlier
// runs (spec.md §4.1's AddMember, persisted). Members learned through
// gossip are not stored.

// SeedMigrations returns the seed-store schema migration statements.
func SeedMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS seeds (
			uuid       TEXT PRIMARY KEY,
			addr       TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
}

// SeedStore persists a flat list of (uuid, address) seed entries.
type SeedStore struct {
	db *DB
}

// NewSeedStore opens (or creates) the seed database at path.
func NewSeedStore(path string) (*SeedStore, error) {
	db, err := Open(path, SeedMigrations())
	if err != nil {
		return nil, err
	}
	return &SeedStore{db: db}, nil
}

func (s *SeedStore) Close() error { return s.db.Close() }

// Upsert records or refreshes a seed's address.
func (s *SeedStore) Upsert(id uuid.UUID, addr string) error {
	_, err := s.db.db.Exec(`
		INSERT INTO seeds (uuid, addr, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(uuid) DO UPDATE SET
			addr       = excluded.addr,
			updated_at = datetime('now')
	`, id.String(), addr)
	return err
}

// Remove deletes a seed entry, if present.
func (s *SeedStore) Remove(id uuid.UUID) error {
	_, err := s.db.db.Exec(`DELETE FROM seeds WHERE uuid = ?`, id.String())
	return err
}

// SeedEntry is one persisted (uuid, address) pair.
type SeedEntry struct {
	UUID uuid.UUID
	Addr string
}

// List returns every persisted seed entry, for re-seeding AddMember calls
// at startup.
func (s *SeedStore) List() ([]SeedEntry, error) {
	rows, err := s.db.db.Query(`SELECT uuid, addr FROM seeds ORDER BY uuid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SeedEntry
	for rows.Next() {
		var idStr, addr string
		if err := rows.Scan(&idStr, &addr); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		out = append(out, SeedEntry{UUID: id, Addr: addr})
	}
	return out, rows.Err()
}

// Get looks up a single seed entry by UUID.
func (s *SeedStore) Get(id uuid.UUID) (string, error) {
	var addr string
	err := s.db.db.QueryRow(`SELECT addr FROM seeds WHERE uuid = ?`, id.String()).Scan(&addr)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return addr, err
}
