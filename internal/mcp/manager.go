// Package mcp implements the Model Context Protocol client manager: a pool
// of connections to remote tool servers, OAuth authorization-code + PKCE
// for servers that require it, and namespaced discovery/invocation across
// every connected server.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// ConnectOptions configures a call to Connect.
type ConnectOptions struct {
	// AuthProvider carries the bearer token or OAuth provider used to reach
	// the server. A nil AuthProvider means the server requires no auth.
	AuthProvider *OAuthProvider
	// Reconnect resumes a previously allocated connection, either after an
	// OAuth redirect (OAuthCode/OAuthClientID set) or after a process
	// restart (ID set, loaded from a durable MCPServerBinding).
	Reconnect *ReconnectOptions
}

// ReconnectOptions identifies an existing server id to reuse instead of
// allocating a fresh one, optionally completing an in-flight OAuth flow.
type ReconnectOptions struct {
	ID            string
	OAuthClientID string
	OAuthCode     string
}

// ConnectResult is returned by Connect. AuthURL is set only when the server
// requires an OAuth authorization step the caller must redirect the user
// through before the connection can reach state ready.
type ConnectResult struct {
	ID       string
	AuthURL  string
	ClientID string
}

// Manager holds every connection opened through Connect, keyed by server
// id, plus the append-only registry of OAuth callback URLs those
// connections' auth providers have registered. It is safe for concurrent
// use; in practice its in-memory maps are typically mutated only from
// within one agent instance's single-writer context, but the manager
// itself does not assume that.
type Manager struct {
	callbackBaseURL string
	httpClient      *http.Client

	mu          sync.RWMutex
	connections map[string]*Connection

	callbacksMu sync.Mutex
	callbackURLs []string
}

// NewManager creates a Manager. callbackBaseURL is prefixed to every
// generated OAuth redirect URL (e.g. "https://host/mcp/callback"); the
// server id is appended as the trailing path segment.
func NewManager(callbackBaseURL string) *Manager {
	return &Manager{
		callbackBaseURL: strings.TrimRight(callbackBaseURL, "/"),
		httpClient:      http.DefaultClient,
		connections:     make(map[string]*Connection),
	}
}

// Connect opens (or resumes) a connection to the MCP server at url: allocate
// or reuse an id, attach the auth provider if one is supplied, initialize
// the connection, and if the provider produced an authorization URL,
// register the callback URL and return it instead of waiting for the OAuth
// round trip to complete.
func (m *Manager) Connect(ctx context.Context, url string, opts ConnectOptions) (ConnectResult, error) {
	if opts.AuthProvider == nil {
		logWarnNoAuthProvider(url)
	}

	id := newServerID()
	if opts.Reconnect != nil && opts.Reconnect.ID != "" {
		id = opts.Reconnect.ID
	}

	conn := m.getOrCreateConnection(id, url, opts)

	if opts.AuthProvider != nil {
		opts.AuthProvider.ServerID = id
		if opts.Reconnect != nil && opts.Reconnect.OAuthClientID != "" {
			opts.AuthProvider.ClientID = opts.Reconnect.OAuthClientID
		}
	}

	var oauthCode string
	if opts.Reconnect != nil {
		oauthCode = opts.Reconnect.OAuthCode
	}

	if err := conn.init(ctx, m, oauthCode); err != nil {
		return ConnectResult{}, err
	}

	result := ConnectResult{ID: id}
	if conn.AuthProvider != nil && conn.State == StateAuthenticating {
		authURL, err := conn.AuthProvider.authorizationURL(m.callbackURLFor(id))
		if err != nil {
			return ConnectResult{}, fmt.Errorf("build authorization url: %w", err)
		}
		m.registerCallbackURL(m.callbackURLFor(id))
		result.AuthURL = authURL
		result.ClientID = conn.AuthProvider.ClientID
	}

	return result, nil
}

func (m *Manager) getOrCreateConnection(id, url string, opts ConnectOptions) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[id]; ok {
		conn.URL = url
		conn.AuthProvider = opts.AuthProvider
		return conn
	}
	conn := newConnection(id, url, opts.AuthProvider, m.httpClient)
	m.connections[id] = conn
	return conn
}

func (m *Manager) connection(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[id]
	return conn, ok
}

func (m *Manager) callbackURLFor(id string) string {
	return m.callbackBaseURL + "/" + id
}

func (m *Manager) registerCallbackURL(url string) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	for _, existing := range m.callbackURLs {
		if existing == url {
			return
		}
	}
	m.callbackURLs = append(m.callbackURLs, url)
}

// CloseConnection closes and forgets the connection with the given id.
func (m *Manager) CloseConnection(id string) error {
	m.mu.Lock()
	conn, ok := m.connections[id]
	delete(m.connections, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.close()
}

// CloseAllConnections closes and forgets every connection the manager
// currently holds.
func (m *Manager) CloseAllConnections() error {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func logWarnNoAuthProvider(url string) {
	slog.Warn("mcp: connecting without an auth provider", "url", url)
}
