package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// MCPServerBinding is a durable record of a reconnectable MCP server,
// including any OAuth client registration data needed to reconnect
// without re-running the authorization flow.
type MCPServerBinding struct {
	ID            string
	Name          string
	ServerURL     string
	CallbackURL   string
	ClientID      string
	ClientSecret  string
	AuthURL       string
	ServerOptions string // JSON-encoded
}

// PutMCPServer inserts or replaces an MCP server binding.
func (s *Store) PutMCPServer(ctx context.Context, tx *sql.Tx, b MCPServerBinding) error {
	if b.ServerOptions == "" {
		b.ServerOptions = "{}"
	}
	_, err := s.ex(tx).ExecContext(ctx,
		`INSERT INTO mcp_servers (id, name, server_url, callback_url, client_id, client_secret, auth_url, server_options)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			server_url = excluded.server_url,
			callback_url = excluded.callback_url,
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			auth_url = excluded.auth_url,
			server_options = excluded.server_options`,
		b.ID, b.Name, b.ServerURL, b.CallbackURL, b.ClientID, b.ClientSecret, b.AuthURL, b.ServerOptions,
	)
	if err != nil {
		return fmt.Errorf("put mcp server: %w", err)
	}
	return nil
}

// ListMCPServers returns all durable MCP server bindings for this agent.
func (s *Store) ListMCPServers(ctx context.Context, tx *sql.Tx) ([]MCPServerBinding, error) {
	rows, err := s.ex(tx).QueryContext(ctx,
		"SELECT id, name, server_url, callback_url, client_id, client_secret, auth_url, server_options FROM mcp_servers",
	)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var bindings []MCPServerBinding
	for rows.Next() {
		var b MCPServerBinding
		if err := rows.Scan(&b.ID, &b.Name, &b.ServerURL, &b.CallbackURL, &b.ClientID, &b.ClientSecret, &b.AuthURL, &b.ServerOptions); err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mcp servers: %w", err)
	}
	return bindings, nil
}

// DeleteMCPServer removes an MCP server binding.
func (s *Store) DeleteMCPServer(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := s.ex(tx).ExecContext(ctx, "DELETE FROM mcp_servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete mcp server: %w", err)
	}
	return nil
}
