package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// IsCallbackRequest reports whether r is a GET whose URL is prefixed by a
// registered OAuth callback URL.
func (m *Manager) IsCallbackRequest(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	_, ok := m.matchCallbackURL(r.URL.String())
	return ok
}

func (m *Manager) matchCallbackURL(reqURL string) (string, bool) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	for _, prefix := range m.callbackURLs {
		if strings.HasPrefix(reqURL, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// HandleCallbackRequest completes the OAuth round trip for the connection
// whose registered callback URL the request matches; the server id is that
// URL's trailing path segment. It returns the server id
// on success so the caller (typically the Router) can surface
// {serverId: id} to the client.
func (m *Manager) HandleCallbackRequest(ctx context.Context, r *http.Request) (string, error) {
	prefix, ok := m.matchCallbackURL(r.URL.String())
	if !ok {
		return "", fmt.Errorf("no callback URI match found for the request url: %s", r.URL.String())
	}

	parts := strings.Split(strings.Trim(prefix, "/"), "/")
	serverID := parts[len(parts)-1]

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" {
		return "", fmt.Errorf("Unauthorized: no code provided")
	}
	if state == "" {
		return "", fmt.Errorf("Unauthorized: no state provided")
	}

	conn, ok := m.connection(serverID)
	if !ok {
		return "", fmt.Errorf("no connection found for server id %q", serverID)
	}
	if conn.AuthProvider == nil {
		return "", fmt.Errorf("Trying to finalize authentication for a server connection without an authProvider")
	}
	if conn.State != StateAuthenticating {
		return "", fmt.Errorf("Failed to authenticate: the client isn't in the `authenticating` state")
	}

	conn.AuthProvider.ClientID = state
	conn.AuthProvider.ServerID = serverID

	if _, err := m.Connect(ctx, conn.URL, ConnectOptions{
		AuthProvider: conn.AuthProvider,
		Reconnect: &ReconnectOptions{
			ID:            serverID,
			OAuthClientID: state,
			OAuthCode:     code,
		},
	}); err != nil {
		return "", fmt.Errorf("Failed to authenticate: client failed to initialize: %w", err)
	}

	conn, _ = m.connection(serverID)
	if conn.State != StateReady {
		return "", fmt.Errorf("Failed to authenticate: client failed to initialize")
	}

	return serverID, nil
}
