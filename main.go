// Command agent-runtime hosts addressable, stateful agent instances behind
// an HTTP/WebSocket front door: load config, build the server, wait for a
// signal, shut down gracefully.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/workspace/agent-runtime/internal/agent"
	"github.com/workspace/agent-runtime/internal/auth"
	"github.com/workspace/agent-runtime/internal/config"
	"github.com/workspace/agent-runtime/internal/logging"
	"github.com/workspace/agent-runtime/internal/mcp"
	"github.com/workspace/agent-runtime/internal/router"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}

	mgr := agent.NewManager(cfg.DataDir, cfg.DefaultIdleTimeout)
	if err := mgr.RegisterClass(newCounterClass()); err != nil {
		slog.Error("register agent class", "error", err)
		os.Exit(1)
	}
	mgr.StartIdleSweep(time.Minute)
	defer mgr.Stop()

	var validator *auth.JWTValidator
	if cfg.JWKSEndpoint != "" {
		validator, err = auth.NewJWTValidator(cfg.JWKSEndpoint, cfg.JWTAudience, cfg.JWTIssuer)
		if err != nil {
			slog.Error("build jwt validator", "error", err)
			os.Exit(1)
		}
		defer validator.Close()
	}

	var mcpManager *mcp.Manager
	if cfg.MCPCallbackBaseURL != "" {
		mcpManager = mcp.NewManager(cfg.MCPCallbackBaseURL)
		mgr.SetMCP(mcpManager)
	}

	rt := router.New(mgr, router.Config{
		Prefix:            cfg.RoutePrefix,
		AllowedOrigins:    cfg.AllowedOrigins,
		WSReadBufferSize:  cfg.WSReadBufferSize,
		WSWriteBufferSize: cfg.WSWriteBufferSize,
		Validator:         validator,
		MCP:               mcpManager,
	})

	srv := &http.Server{
		Addr:         cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler:      rt,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("agent runtime listening", "addr", srv.Addr, "prefix", cfg.RoutePrefix)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown", "error", err)
	}
}

// counterAgent is a minimal demonstration class: it keeps a running total
// in its persisted state, exposes a callable method ("add", whose argument
// array holds the amount to add), and schedules a delayed callback
// ("remind", also registered as callable) on every new connection,
// exercising SetState/Schedule/RPC end to end.
type counterAgent struct{}

func (c *counterAgent) New() {}

// OnConnect schedules a one-shot reminder 30 seconds out so the scheduler
// path runs without waiting for an idle eviction and rehydration.
func (c *counterAgent) OnConnect(ctx context.Context, conn *agent.Connection) error {
	inv, _ := agent.CurrentInvocation(ctx)
	_, err := inv.Instance.Schedule(ctx, 30, "remind", nil)
	return err
}

func newCounterClass() *agent.ClassDef {
	def := agent.NewClassDef("Counter", func() agent.Agent { return &counterAgent{} })

	def.Callable("add", func(ctx context.Context, args json.RawMessage) (any, error) {
		var params [1]float64
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, err
		}
		delta := params[0]
		inv, _ := agent.CurrentInvocation(ctx)
		current, err := inv.Instance.State(ctx)
		if err != nil {
			return nil, err
		}
		var total float64
		if len(current) > 0 {
			_ = json.Unmarshal(current, &total)
		}
		total += delta
		next, err := json.Marshal(total)
		if err != nil {
			return nil, err
		}
		if err := inv.Instance.SetState(ctx, next, "server"); err != nil {
			return nil, err
		}
		return total, nil
	})

	def.Callable("remind", func(ctx context.Context, args json.RawMessage) (any, error) {
		inv, _ := agent.CurrentInvocation(ctx)
		inv.Instance.Broadcast(map[string]string{"type": "reminder", "message": "still counting"})
		return nil, nil
	})

	return def
}
