package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port=%d, want 8080", cfg.Port)
	}
	if cfg.RoutePrefix != "agents" {
		t.Errorf("RoutePrefix=%q, want %q", cfg.RoutePrefix, "agents")
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins=%v, want [*]", cfg.AllowedOrigins)
	}
	if cfg.JWKSEndpoint != "" {
		t.Errorf("JWKSEndpoint=%q, want empty by default", cfg.JWKSEndpoint)
	}
}

func TestLoadRequiresAudienceWhenJWKSSet(t *testing.T) {
	t.Setenv("JWKS_ENDPOINT", "https://issuer.example.com/.well-known/jwks.json")
	t.Setenv("JWT_AUDIENCE", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when JWKS_ENDPOINT set without JWT_AUDIENCE")
	}
}

func TestLoadRoutePrefixTrimsSlashes(t *testing.T) {
	t.Setenv("ROUTE_PREFIX", "/custom/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.RoutePrefix != "custom" {
		t.Errorf("RoutePrefix=%q, want %q", cfg.RoutePrefix, "custom")
	}
}

func TestLoadAllowedOriginsFromCommaList(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
		}
	}
}

func TestLoadMCPDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MCPConnectTimeout != 30*time.Second {
		t.Errorf("MCPConnectTimeout=%v, want 30s", cfg.MCPConnectTimeout)
	}
	if cfg.MCPToolCacheTTL != 5*time.Minute {
		t.Errorf("MCPToolCacheTTL=%v, want 5m", cfg.MCPToolCacheTTL)
	}
}

func TestLoadHTTPWriteTimeoutDefaultsUnbounded(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.HTTPWriteTimeout != 0 {
		t.Errorf("HTTPWriteTimeout=%v, want 0 (unbounded)", cfg.HTTPWriteTimeout)
	}
}

func TestLoadDataDirDefault(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir=%q, want %q", cfg.DataDir, "./data")
	}
}

func TestLoadDataDirOverride(t *testing.T) {
	t.Setenv("AGENT_DATA_DIR", "/var/lib/agents")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DataDir != "/var/lib/agents" {
		t.Errorf("DataDir=%q, want %q", cfg.DataDir, "/var/lib/agents")
	}
}
