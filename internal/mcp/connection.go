package mcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/workspace/agent-runtime/internal/callbackretry"
)

// connectRetryConfig governs retries of the initial session dial only: a
// transient network blip while opening the stream shouldn't fail the whole
// Connect call. Discovery and OAuth errors are not retried.
var connectRetryConfig = callbackretry.Config{
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	MaxElapsed:   10 * time.Second,
	MaxAttempts:  3,
}

// State enumerates an MCP connection's lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const initTimeout = 30 * time.Second

// Connection is one MCP server binding: its transport options, auth
// provider, current lifecycle state, and discovery caches. One connection
// per manager entry; the manager itself is the pool.
type Connection struct {
	ID           string
	URL          string
	AuthProvider *OAuthProvider
	State        State

	Tools             []*mcpsdk.Tool
	Prompts           []*mcpsdk.Prompt
	Resources         []*mcpsdk.Resource
	ResourceTemplates []*mcpsdk.ResourceTemplate

	httpClient *http.Client
	session    *mcpsdk.ClientSession
}

func newConnection(id, url string, auth *OAuthProvider, httpClient *http.Client) *Connection {
	return &Connection{
		ID:           id,
		URL:          url,
		AuthProvider: auth,
		State:        StateConnecting,
		httpClient:   httpClient,
	}
}

// init (re)establishes the session. oauthCode is non-empty only when
// resuming an in-flight authorization-code exchange via the manager's
// callback handler.
func (c *Connection) init(ctx context.Context, mgr *Manager, oauthCode string) (err error) {
	defer func() {
		if err != nil {
			c.State = StateFailed
		}
	}()

	transport, authErr := c.buildTransport(ctx, oauthCode)
	if authErr != nil {
		return authErr
	}
	if c.State == StateAuthenticating {
		// Waiting on the OAuth redirect; nothing left to do until the
		// callback arrives with a code.
		return nil
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agent-runtime", Version: "0.1.0"}, nil)
	var session *mcpsdk.ClientSession
	dialErr := callbackretry.Do(initCtx, connectRetryConfig, fmt.Sprintf("mcp-connect-%s", c.ID), func(retryCtx context.Context) error {
		s, connErr := client.Connect(retryCtx, transport, nil)
		if connErr != nil {
			return connErr
		}
		session = s
		return nil
	})
	if dialErr != nil {
		return fmt.Errorf("connect to mcp server %q: %w", c.ID, dialErr)
	}
	c.session = session

	if discErr := c.discover(initCtx); discErr != nil {
		_ = session.Close()
		return discErr
	}

	c.State = StateReady
	return nil
}

// buildTransport resolves the connection's auth state before constructing
// a transport. If an OAuth provider is attached and has not yet completed
// the authorization-code exchange, the connection moves to authenticating
// and buildTransport returns a nil transport; the caller checks State and
// stops there until HandleCallbackRequest supplies a code.
func (c *Connection) buildTransport(ctx context.Context, oauthCode string) (mcpsdk.Transport, error) {
	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if c.AuthProvider == nil {
		return &mcpsdk.StreamableClientTransport{Endpoint: c.URL, HTTPClient: httpClient}, nil
	}

	if !c.AuthProvider.hasToken() {
		if oauthCode == "" {
			c.State = StateAuthenticating
			return nil, nil
		}
		if err := c.AuthProvider.exchange(ctx, oauthCode); err != nil {
			return nil, fmt.Errorf("exchange oauth code for %q: %w", c.ID, err)
		}
		c.State = StateConnecting
	}

	return &mcpsdk.StreamableClientTransport{
		Endpoint:   c.URL,
		HTTPClient: c.AuthProvider.authorizedClient(httpClient),
	}, nil
}

func (c *Connection) discover(ctx context.Context) error {
	tools, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("list tools from %q: %w", c.ID, err)
	}
	c.Tools = tools.Tools

	prompts, err := c.session.ListPrompts(ctx, nil)
	if err != nil {
		return fmt.Errorf("list prompts from %q: %w", c.ID, err)
	}
	c.Prompts = prompts.Prompts

	resources, err := c.session.ListResources(ctx, nil)
	if err != nil {
		return fmt.Errorf("list resources from %q: %w", c.ID, err)
	}
	c.Resources = resources.Resources

	templates, err := c.session.ListResourceTemplates(ctx, nil)
	if err != nil {
		return fmt.Errorf("list resource templates from %q: %w", c.ID, err)
	}
	c.ResourceTemplates = templates.ResourceTemplates

	return nil
}

func (c *Connection) close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}
