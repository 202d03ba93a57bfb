// Package router implements the HTTP/WebSocket front door of the agent
// runtime: the "/<prefix>/<class-kebab>/<instance-name>[/<tail>]" URL
// grammar, CORS handling, WebSocket upgrade, and the well-known
// /setState, /getState, and JSON-RPC endpoints.
package router

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/workspace/agent-runtime/internal/agent"
	"github.com/workspace/agent-runtime/internal/auth"
	"github.com/workspace/agent-runtime/internal/mcp"
)

// Config configures a Router's CORS and auth behavior.
type Config struct {
	Prefix            string
	AllowedOrigins    []string
	CORSHeaders       map[string]string // nil: use the built-in defaults
	WSReadBufferSize  int
	WSWriteBufferSize int
	Validator         *auth.JWTValidator // nil disables bearer-token auth
	MCP               *mcp.Manager       // nil disables the OAuth callback endpoint
}

// Router resolves agent routes and hands requests off to the matching
// Instance through a dynamic class/instance dispatch table.
type Router struct {
	cfg Config
	mgr *agent.Manager
}

// New creates a Router over mgr using cfg. An empty cfg.Prefix defaults to
// "agents".
func New(mgr *agent.Manager, cfg Config) *Router {
	if cfg.Prefix == "" {
		cfg.Prefix = "agents"
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Router{cfg: cfg, mgr: mgr}
}

// route is the parsed result of matching a request path against the
// router's URL grammar.
type route struct {
	class    string
	instance string
	tail     string
}

// match parses path against "/<prefix>/<class-kebab>/<instance-name>[/<tail>]".
// A non-matching path returns ok=false so the caller can fall back to other
// handling, mirroring spec's "no match yields no response from the router."
func (rt *Router) match(path string) (route, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	segments := strings.SplitN(trimmed, "/", 3)
	if len(segments) < 2 || segments[0] != rt.cfg.Prefix {
		return route{}, false
	}
	if segments[1] == "" {
		return route{}, false
	}

	r := route{class: segments[1]}
	if len(segments) == 2 {
		return route{}, false
	}
	rest := strings.SplitN(segments[2], "/", 2)
	r.instance = rest[0]
	if len(rest) == 2 {
		r.tail = rest[1]
	}
	if r.instance == "" {
		return route{}, false
	}
	return r, true
}

// ServeHTTP implements http.Handler. Requests that don't match the URL
// grammar, the health path or the MCP callback get a 404.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		rt.handleHealth(w, r)
		return
	}

	if rt.cfg.MCP != nil && rt.cfg.MCP.IsCallbackRequest(r) {
		rt.handleMCPCallback(w, r)
		return
	}

	rte, ok := rt.match(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if r.Method == http.MethodOptions {
		rt.writeCORSHeaders(w, r)
		w.WriteHeader(http.StatusOK)
		return
	}
	rt.writeCORSHeaders(w, r)

	if rt.cfg.Validator != nil {
		if !rt.authorize(w, r) {
			return
		}
	}

	inst, err := rt.mgr.Resolve(r.Context(), rte.class, rte.instance)
	if err != nil {
		slog.Warn("router: resolve failed", "class", rte.class, "instance", rte.instance, "error", err)
		http.NotFound(w, r)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		rt.serveWebSocket(w, r, inst)
		return
	}

	rt.serveHTTP(w, r, inst, rte.tail)
}

// handleHealth reports process-wide instance/connection counts.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := rt.mgr.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "healthy",
		"instances":   stats.Instances,
		"connections": stats.Connections,
	})
}

// handleMCPCallback completes the OAuth round trip for an MCP server
// connection and reports the outcome as {serverId} or {error}.
func (rt *Router) handleMCPCallback(w http.ResponseWriter, r *http.Request) {
	serverID, err := rt.cfg.MCP.HandleCallbackRequest(r.Context(), r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"serverId": serverID})
}

func (rt *Router) authorize(w http.ResponseWriter, r *http.Request) bool {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return false
	}
	if _, err := rt.cfg.Validator.Validate(strings.TrimPrefix(authz, prefix)); err != nil {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return false
	}
	return true
}
