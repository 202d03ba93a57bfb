package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// QueueItem is one pending unit of queued work.
type QueueItem struct {
	ID        string
	Callback  string
	Payload   json.RawMessage
	CreatedAt string
}

// EnqueueQueueItem inserts a new queue row.
func (s *Store) EnqueueQueueItem(ctx context.Context, tx *sql.Tx, id, callback string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	_, err := s.ex(tx).ExecContext(ctx,
		"INSERT INTO queue (id, callback, payload, created_at) VALUES (?, ?, ?, ?)",
		id, callback, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("enqueue queue item: %w", err)
	}
	return nil
}

// ListQueueItems returns all queued items ordered by (created_at, id), the
// FIFO order the queue engine fires them in.
func (s *Store) ListQueueItems(ctx context.Context, tx *sql.Tx) ([]QueueItem, error) {
	rows, err := s.ex(tx).QueryContext(ctx,
		"SELECT id, callback, payload, created_at FROM queue ORDER BY created_at ASC, id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var it QueueItem
		var payload string
		if err := rows.Scan(&it.ID, &it.Callback, &payload, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		it.Payload = json.RawMessage(payload)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return items, nil
}

// DeleteQueueItem removes a queue row after its handler completes successfully.
func (s *Store) DeleteQueueItem(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := s.ex(tx).ExecContext(ctx, "DELETE FROM queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	return nil
}
