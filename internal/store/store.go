package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is recorded in the metadata table. Opening a cache written
// with a different version discards its entries.
const SchemaVersion = "3"

const (
	schemaVersionKey = "schema_version"
	indexIdentityKey = "index_identity"
)

// Store is the SQLite persistence layer of the resolution cache.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the cache tables and clears them when the recorded
// schema version differs from SchemaVersion. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	current, err := s.GetMetadata(schemaVersionKey)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if current == SchemaVersion {
		return nil
	}
	if err := s.Clear(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := s.SetMetadata(schemaVersionKey, SchemaVersion); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Bind records the identity of the index the cache answers for. When a
// different identity was recorded before, every entry is cleared and Bind
// reports true. An empty identity leaves the cache untouched.
func (s *Store) Bind(identity string) (bool, error) {
	if identity == "" {
		return false, nil
	}
	current, err := s.GetMetadata(indexIdentityKey)
	if err != nil {
		return false, fmt.Errorf("bind: %w", err)
	}
	if current == identity {
		return false, nil
	}
	cleared := current != ""
	if cleared {
		if err := s.Clear(); err != nil {
			return false, fmt.Errorf("bind: %w", err)
		}
	}
	if err := s.SetMetadata(indexIdentityKey, identity); err != nil {
		return false, fmt.Errorf("bind: %w", err)
	}
	return cleared, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS lookups (
  signature       TEXT PRIMARY KEY,
  name            TEXT NOT NULL,
  payload         BLOB NOT NULL,
  created_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS dependencies (
  candidate_key   TEXT PRIMARY KEY,
  name            TEXT NOT NULL,
  payload         BLOB NOT NULL,
  created_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lookups_name ON lookups(name);
CREATE INDEX IF NOT EXISTS idx_dependencies_name ON dependencies(name);
`

// Lookup returns the persisted FindBest entry for signature, or nil when
// there is none.
func (s *Store) Lookup(signature string) (*Entry, error) {
	return s.queryEntry(
		`SELECT signature, name, payload, created_at FROM lookups WHERE signature = ?`, signature)
}

// Dependencies returns the persisted dependency entry for a candidate key,
// or nil when there is none.
func (s *Store) Dependencies(candidateKey string) (*Entry, error) {
	return s.queryEntry(
		`SELECT candidate_key, name, payload, created_at FROM dependencies WHERE candidate_key = ?`, candidateKey)
}

func (s *Store) queryEntry(query string, key string) (*Entry, error) {
	e := &Entry{}
	err := s.db.QueryRow(query, key).Scan(&e.Key, &e.Name, &e.Payload, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetMetadata returns the value stored under key, or "" when unset.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %q: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores value under key.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}

// Clear removes every cached lookup and dependency entry.
func (s *Store) Clear() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("clear: begin: %w", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"lookups", "dependencies"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// DeleteName removes every entry recorded for a package name.
func (s *Store) DeleteName(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete %s: begin: %w", name, err)
	}
	defer tx.Rollback()
	for _, table := range []string{"lookups", "dependencies"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE name = ?`, name); err != nil {
			return fmt.Errorf("delete %s from %s: %w", name, table, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of rows in the lookups and dependencies tables.
func (s *Store) Count() (lookups, dependencies int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM lookups`).Scan(&lookups); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM dependencies`).Scan(&dependencies); err != nil {
		return 0, 0, err
	}
	return lookups, dependencies, nil
}
