package mcp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

const (
	// oauthStateBytes is the length of the random state parameter, reused
	// here as the OAuth client id (see DESIGN.md Open Question).
	oauthStateBytes = 16
	// oauthVerifierBytes is the PKCE code verifier length before encoding,
	// meeting RFC 7636's 32-byte minimum entropy.
	oauthVerifierBytes = 32
)

// OAuthProvider drives the authorization-code + PKCE flow for one MCP
// server connection using golang.org/x/oauth2: there is no id_token to
// verify, only an access token handed back to the MCP transport as a
// bearer credential.
type OAuthProvider struct {
	ServerID     string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string

	mu           sync.Mutex
	codeVerifier string
	token        *oauth2.Token
}

func (p *OAuthProvider) hasToken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != nil
}

// authorizationURL builds the URL the caller must redirect the user
// through, generating a fresh PKCE code verifier. The state parameter
// doubles as the client id the callback handler matches against.
func (p *OAuthProvider) authorizationURL(redirectURL string) (string, error) {
	verifier, err := generateRandomBase64(oauthVerifierBytes)
	if err != nil {
		return "", fmt.Errorf("generate pkce verifier: %w", err)
	}

	if p.ClientID == "" {
		clientID, err := generateRandomBase64(oauthStateBytes)
		if err != nil {
			return "", fmt.Errorf("generate oauth client id: %w", err)
		}
		p.ClientID = clientID
	}

	p.mu.Lock()
	p.codeVerifier = verifier
	p.mu.Unlock()

	cfg := p.oauth2Config(redirectURL)
	return cfg.AuthCodeURL(p.ClientID, oauth2.S256ChallengeOption(verifier)), nil
}

// exchange completes the authorization-code exchange using the verifier
// generated by authorizationURL.
func (p *OAuthProvider) exchange(ctx context.Context, code string) error {
	p.mu.Lock()
	verifier := p.codeVerifier
	p.mu.Unlock()
	if verifier == "" {
		return fmt.Errorf("oauth exchange attempted without a prior authorization request")
	}

	cfg := p.oauth2Config("")
	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
	return nil
}

func (p *OAuthProvider) oauth2Config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthURL,
			TokenURL: p.TokenURL,
		},
		Scopes: p.Scopes,
	}
}

// authorizedClient returns an *http.Client whose RoundTripper attaches the
// provider's current bearer token to every outbound MCP request, falling
// back to base when no token has been obtained yet.
func (p *OAuthProvider) authorizedClient(base *http.Client) *http.Client {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()
	if token == nil {
		return base
	}

	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := *base
	client.Transport = &bearerTokenTransport{base: transport, token: token.AccessToken}
	return &client
}

type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

func generateRandomBase64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
