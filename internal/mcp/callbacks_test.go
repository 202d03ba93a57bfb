package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsCallbackRequestMatchesRegisteredPrefix(t *testing.T) {
	m := NewManager("https://host/mcp/callback")
	m.registerCallbackURL("https://host/mcp/callback/abcd1234")

	req := httptest.NewRequest(http.MethodGet, "https://host/mcp/callback/abcd1234?code=x&state=y", nil)
	if !m.IsCallbackRequest(req) {
		t.Fatal("expected request to match registered callback prefix")
	}

	other := httptest.NewRequest(http.MethodGet, "https://host/unrelated", nil)
	if m.IsCallbackRequest(other) {
		t.Fatal("unrelated path should not match")
	}

	post := httptest.NewRequest(http.MethodPost, "https://host/mcp/callback/abcd1234", nil)
	if m.IsCallbackRequest(post) {
		t.Fatal("non-GET request should not match")
	}
}

func TestHandleCallbackRequestRejectsMissingCode(t *testing.T) {
	m := NewManager("https://host/mcp/callback")
	m.registerCallbackURL("https://host/mcp/callback/abcd1234")

	req := httptest.NewRequest(http.MethodGet, "https://host/mcp/callback/abcd1234?state=y", nil)
	if _, err := m.HandleCallbackRequest(context.Background(), req); err == nil {
		t.Fatal("expected error for missing code")
	}
}

func TestHandleCallbackRequestRejectsUnknownConnection(t *testing.T) {
	m := NewManager("https://host/mcp/callback")
	m.registerCallbackURL("https://host/mcp/callback/abcd1234")

	req := httptest.NewRequest(http.MethodGet, "https://host/mcp/callback/abcd1234?code=x&state=y", nil)
	if _, err := m.HandleCallbackRequest(context.Background(), req); err == nil {
		t.Fatal("expected error for a callback with no matching connection")
	}
}

func TestHandleCallbackRequestRejectsWrongState(t *testing.T) {
	m := NewManager("https://host/mcp/callback")
	m.registerCallbackURL("https://host/mcp/callback/abcd1234")
	conn := newConnection("abcd1234", "https://srv/mcp", &OAuthProvider{}, nil)
	conn.State = StateConnecting
	m.connections = map[string]*Connection{"abcd1234": conn}

	req := httptest.NewRequest(http.MethodGet, "https://host/mcp/callback/abcd1234?code=x&state=y", nil)
	if _, err := m.HandleCallbackRequest(context.Background(), req); err == nil {
		t.Fatal("expected error when connection isn't in the authenticating state")
	}
}
