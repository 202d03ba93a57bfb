// Package agent implements the addressable, stateful agent instances at
// the core of the runtime: class registration, per-instance hydration and
// single-writer dispatch, WebSocket connections, RPC, scheduling, and the
// work queue.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/workspace/agent-runtime/internal/mcp"
)

// Manager owns the registry of agent classes and the in-memory map of
// currently hydrated instances: one registry of (class, instance) actors
// per process.
type Manager struct {
	dataDir            string
	defaultIdleTimeout time.Duration

	mcp *mcp.Manager

	mu      sync.Mutex
	classes map[string]*ClassDef

	instMu    sync.Mutex
	instances map[Key]*Instance

	stopIdle chan struct{}
}

// NewManager creates a Manager that stores per-instance SQLite files under
// dataDir. defaultIdleTimeout is used for classes that don't set their own
// ClassDef.IdleTimeout; zero disables idle eviction.
func NewManager(dataDir string, defaultIdleTimeout time.Duration) *Manager {
	return &Manager{
		dataDir:            dataDir,
		defaultIdleTimeout: defaultIdleTimeout,
		classes:            make(map[string]*ClassDef),
		instances:          make(map[Key]*Instance),
		stopIdle:           make(chan struct{}),
	}
}

// SetMCP attaches the process-wide MCP client manager, making it reachable
// from dispatched agent handlers as well as the Router. Must be called
// before any instance is hydrated for new connections to be persisted and
// reloaded; it has no effect on instances already hydrated.
func (m *Manager) SetMCP(mgr *mcp.Manager) {
	m.mcp = mgr
}

// RegisterClass adds def to the registry, keyed by its kebab-case name.
func (m *Manager) RegisterClass(def *ClassDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := KebabCase(def.Name)
	if _, exists := m.classes[key]; exists {
		return fmt.Errorf("register class: %q already registered", key)
	}
	m.classes[key] = def
	return nil
}

// ClassByRoute looks up a registered class by its kebab-case route segment.
func (m *Manager) ClassByRoute(kebabName string) (*ClassDef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.classes[kebabName]
	return def, ok
}

// Resolve returns the live instance for (kebabClass, instanceName),
// hydrating it on first resolution. Two resolutions of the same key always
// return the same *Instance as long as it has not been evicted.
func (m *Manager) Resolve(ctx context.Context, kebabClass, instanceName string) (*Instance, error) {
	class, ok := m.ClassByRoute(kebabClass)
	if !ok {
		return nil, fmt.Errorf("resolve: no class registered for %q", kebabClass)
	}

	key := Key{Class: class.Name, Instance: instanceName}

	m.instMu.Lock()
	defer m.instMu.Unlock()

	if inst, ok := m.instances[key]; ok {
		return inst, nil
	}

	dbPath := filepath.Join(m.dataDir, KebabCase(class.Name), DeriveID(key)+".sqlite")
	inst, err := hydrate(m, key, class, dbPath)
	if err != nil {
		return nil, err
	}
	m.instances[key] = inst
	return inst, nil
}

// Stats is a snapshot of process-wide instance/connection counts, the
// response shape for the health endpoint.
type Stats struct {
	Instances   int `json:"instances"`
	Connections int `json:"connections"`
}

// Stats reports the number of currently hydrated instances and their
// combined open-connection count.
func (m *Manager) Stats() Stats {
	m.instMu.Lock()
	insts := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.instMu.Unlock()

	stats := Stats{Instances: len(insts)}
	for _, inst := range insts {
		stats.Connections += inst.ConnectionCount()
	}
	return stats
}

// forget removes key from the live instance registry; called by
// Instance.Destroy and by idle eviction.
func (m *Manager) forget(key Key) {
	m.instMu.Lock()
	delete(m.instances, key)
	m.instMu.Unlock()
}

// StartIdleSweep begins a background goroutine that evicts instances idle
// past their class's idle timeout, checked every interval. Call Stop to end
// it.
func (m *Manager) StartIdleSweep(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopIdle:
				return
			case <-ticker.C:
				m.sweepIdle()
			}
		}
	}()
}

// Stop ends the idle sweep goroutine started by StartIdleSweep.
func (m *Manager) Stop() {
	close(m.stopIdle)
}

func (m *Manager) sweepIdle() {
	m.instMu.Lock()
	candidates := make([]*Instance, 0)
	for _, inst := range m.instances {
		timeout := inst.class.IdleTimeout
		if timeout == 0 {
			timeout = m.defaultIdleTimeout
		}
		if timeout == 0 {
			continue
		}
		if inst.ConnectionCount() > 0 {
			continue
		}
		if time.Since(inst.LastActivity()) >= timeout {
			candidates = append(candidates, inst)
		}
	}
	m.instMu.Unlock()

	for _, inst := range candidates {
		slog.Info("evicting idle agent instance", "class", inst.key.Class, "instance", inst.key.Instance)
		if err := inst.evict(context.Background()); err != nil {
			slog.Error("evict idle instance", "class", inst.key.Class, "instance", inst.key.Instance, "error", err)
		}
	}
}
