package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ChatMessage is one entry in the append-only chat message log used by
// higher-level chat agents; the core runtime never reads it itself.
type ChatMessage struct {
	ID        string
	Message   json.RawMessage
	CreatedAt string
}

// AppendChatMessage appends a message to the log.
func (s *Store) AppendChatMessage(ctx context.Context, tx *sql.Tx, id string, message json.RawMessage) error {
	_, err := s.ex(tx).ExecContext(ctx,
		"INSERT INTO chat_messages (id, message, created_at) VALUES (?, ?, ?)",
		id, string(message), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

// ListChatMessages returns the full chat message log in insertion order.
func (s *Store) ListChatMessages(ctx context.Context, tx *sql.Tx) ([]ChatMessage, error) {
	rows, err := s.ex(tx).QueryContext(ctx,
		"SELECT id, message, created_at FROM chat_messages ORDER BY created_at ASC, id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var message string
		if err := rows.Scan(&m.ID, &message, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Message = json.RawMessage(message)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return msgs, nil
}

// ClearChatMessages deletes every row in the chat message log.
func (s *Store) ClearChatMessages(ctx context.Context, tx *sql.Tx) error {
	_, err := s.ex(tx).ExecContext(ctx, "DELETE FROM chat_messages")
	if err != nil {
		return fmt.Errorf("clear chat messages: %w", err)
	}
	return nil
}

// DeleteAll removes every row across all five tables, used by Instance.Destroy.
func (s *Store) DeleteAll(ctx context.Context, tx *sql.Tx) error {
	ex := s.ex(tx)
	for _, table := range []string{"state", "queue", "schedule", "mcp_servers", "chat_messages"} {
		if _, err := ex.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("delete all from %s: %w", table, err)
		}
	}
	return nil
}
