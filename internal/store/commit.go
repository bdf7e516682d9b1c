package store

import (
	"database/sql"
	"fmt"
)

// CommitBatch writes every buffered entry of batch within a single
// transaction and empties the batch. Existing rows with the same key are
// replaced.
func (s *Store) CommitBatch(batch *Batch) error {
	lookups, deps := batch.drain()
	if len(lookups) == 0 && len(deps) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range lookups {
		if err := upsertTx(tx, "lookups", "signature", e); err != nil {
			return fmt.Errorf("commit batch: lookup %s: %w", e.Name, err)
		}
	}
	for _, e := range deps {
		if err := upsertTx(tx, "dependencies", "candidate_key", e); err != nil {
			return fmt.Errorf("commit batch: dependencies %s: %w", e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func upsertTx(tx *sql.Tx, table, keyColumn string, e Entry) error {
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO `+table+` (`+keyColumn+`, name, payload, created_at) VALUES (?, ?, ?, ?)`,
		e.Key, e.Name, e.Payload, e.CreatedAt,
	)
	return err
}
