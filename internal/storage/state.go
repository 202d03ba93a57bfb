package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetState returns the current state blob, or json "null" if never set.
func (s *Store) GetState(ctx context.Context, tx *sql.Tx) (json.RawMessage, error) {
	var data string
	err := s.ex(tx).QueryRowContext(ctx, "SELECT data FROM state WHERE id = 1").Scan(&data)
	if err == sql.ErrNoRows {
		return json.RawMessage("null"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	return json.RawMessage(data), nil
}

// PutState replaces the state blob atomically.
func (s *Store) PutState(ctx context.Context, tx *sql.Tx, data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	_, err := s.ex(tx).ExecContext(ctx,
		`INSERT INTO state (id, data, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	return nil
}
