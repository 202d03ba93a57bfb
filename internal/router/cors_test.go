package router

import (
	"net/http/httptest"
	"testing"

	"github.com/workspace/agent-runtime/internal/agent"
)

func newCORSRouter(t *testing.T, origins []string) *Router {
	t.Helper()
	mgr := agent.NewManager(t.TempDir(), 0)
	if err := mgr.RegisterClass(newTestClass()); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	return New(mgr, Config{Prefix: "agents", AllowedOrigins: origins})
}

func TestOriginAllowedExactAndWildcard(t *testing.T) {
	rt := newCORSRouter(t, []string{"https://app.example.com", "https://*.example.org"})

	cases := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"https://evil.com", false},
		{"https://foo.example.org", true},
		{"https://foo.bar.example.org", true},
		{"https://example.org", false},
	}
	for _, c := range cases {
		if got := rt.originAllowed(c.origin); got != c.want {
			t.Errorf("originAllowed(%q) = %v, want %v", c.origin, got, c.want)
		}
	}
}

func TestWriteCORSHeadersSkipsDisallowedOrigin(t *testing.T) {
	rt := newCORSRouter(t, []string{"https://app.example.com"})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.com")
	rec := httptest.NewRecorder()

	rt.writeCORSHeaders(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS headers for a disallowed origin")
	}
}

func TestWriteCORSHeadersDefaultsForWildcard(t *testing.T) {
	rt := newCORSRouter(t, []string{"*"})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()

	rt.writeCORSHeaders(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected default Access-Control-Allow-Credentials header")
	}
}
