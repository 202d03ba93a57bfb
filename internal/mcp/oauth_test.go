package mcp

import (
	"context"
	"strings"
	"testing"
)

func TestAuthorizationURLGeneratesClientIDAndChallenge(t *testing.T) {
	p := &OAuthProvider{
		AuthURL:  "https://idp.example.com/authorize",
		TokenURL: "https://idp.example.com/token",
	}

	url, err := p.authorizationURL("https://host/mcp/callback/abcd1234")
	if err != nil {
		t.Fatalf("authorizationURL: %v", err)
	}
	if p.ClientID == "" {
		t.Fatal("expected authorizationURL to allocate a client id")
	}
	if !strings.Contains(url, "code_challenge=") {
		t.Fatalf("expected a PKCE code_challenge in the authorization URL, got %s", url)
	}
	if !strings.Contains(url, "state="+p.ClientID) {
		t.Fatalf("expected state to carry the client id, got %s", url)
	}
}

func TestExchangeWithoutAuthorizationURLFails(t *testing.T) {
	p := &OAuthProvider{AuthURL: "https://idp.example.com/authorize", TokenURL: "https://idp.example.com/token"}
	if err := p.exchange(context.Background(), "somecode"); err == nil {
		t.Fatal("expected exchange to fail without a prior authorizationURL call")
	}
}
