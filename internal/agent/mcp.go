package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/workspace/agent-runtime/internal/mcp"
	"github.com/workspace/agent-runtime/internal/storage"
)

// MCP returns the process-wide MCP client manager, or nil if the runtime
// wasn't configured with one. Dispatched agent handlers reach it through
// CurrentInvocation(ctx).Instance.MCP(), the same manager the Router's
// OAuth callback endpoint uses.
func (i *Instance) MCP() *mcp.Manager {
	return i.mcpMgr
}

// mcpServerOptions is the JSON shape stored in mcp_servers.server_options:
// the OAuth token endpoint and scopes an auth provider needs in order to
// rebuild itself on reconnect, since those aren't columns of their own.
type mcpServerOptions struct {
	TokenURL string   `json:"tokenUrl,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// MCPConnect opens (or resumes) a connection through the instance's MCP
// manager and durably records the binding so it can be resumed after a
// restart. name labels the row for later listing; an empty name defaults
// to url.
func (i *Instance) MCPConnect(ctx context.Context, name, url string, opts mcp.ConnectOptions) (mcp.ConnectResult, error) {
	if i.mcpMgr == nil {
		return mcp.ConnectResult{}, fmt.Errorf("mcp: no manager configured for this runtime")
	}

	result, err := i.mcpMgr.Connect(ctx, url, opts)
	if err != nil {
		return result, err
	}

	if name == "" {
		name = url
	}
	binding := storage.MCPServerBinding{
		ID:        result.ID,
		Name:      name,
		ServerURL: url,
	}
	if opts.AuthProvider != nil {
		binding.ClientID = opts.AuthProvider.ClientID
		binding.ClientSecret = opts.AuthProvider.ClientSecret
		binding.AuthURL = opts.AuthProvider.AuthURL
		raw, marshalErr := json.Marshal(mcpServerOptions{
			TokenURL: opts.AuthProvider.TokenURL,
			Scopes:   opts.AuthProvider.Scopes,
		})
		if marshalErr == nil {
			binding.ServerOptions = string(raw)
		}
	}
	if result.ClientID != "" {
		binding.ClientID = result.ClientID
	}

	inv := &Invocation{}
	if persistErr := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return i.store.PutMCPServer(ctx, tx, binding)
	}); persistErr != nil {
		return result, fmt.Errorf("persist mcp server binding: %w", persistErr)
	}

	return result, nil
}

// MCPDisconnect closes the connection and removes its durable binding.
func (i *Instance) MCPDisconnect(ctx context.Context, id string) error {
	if i.mcpMgr != nil {
		if err := i.mcpMgr.CloseConnection(id); err != nil {
			return err
		}
	}
	inv := &Invocation{}
	return i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return i.store.DeleteMCPServer(ctx, tx, id)
	})
}

// reconnectMCPServers resumes every durable MCP server binding on
// hydration, so a connection opened before a restart becomes usable again
// without the caller re-issuing MCPConnect. A binding that previously
// needed OAuth and has no stored access token re-enters the authenticating
// state exactly as it would on first connect; the caller must redirect the
// user through a fresh authorization URL in that case.
func (i *Instance) reconnectMCPServers(ctx context.Context) {
	if i.mcpMgr == nil {
		return
	}
	bindings, err := i.store.ListMCPServers(ctx, nil)
	if err != nil {
		slog.Error("list mcp server bindings on hydration", "class", i.key.Class, "instance", i.key.Instance, "error", err)
		return
	}

	for _, b := range bindings {
		opts := mcp.ConnectOptions{
			Reconnect: &mcp.ReconnectOptions{ID: b.ID, OAuthClientID: b.ClientID},
		}
		if b.AuthURL != "" {
			var sopts mcpServerOptions
			_ = json.Unmarshal([]byte(b.ServerOptions), &sopts)
			opts.AuthProvider = &mcp.OAuthProvider{
				ClientID:     b.ClientID,
				ClientSecret: b.ClientSecret,
				AuthURL:      b.AuthURL,
				TokenURL:     sopts.TokenURL,
				Scopes:       sopts.Scopes,
			}
		}
		if _, err := i.mcpMgr.Connect(ctx, b.ServerURL, opts); err != nil {
			slog.Error("reconnect mcp server binding", "id", b.ID, "url", b.ServerURL, "error", err)
		}
	}
}
