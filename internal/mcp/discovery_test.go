package mcp

import (
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestListToolsUnionsReadyConnectionsOnly(t *testing.T) {
	ready := newConnection("ready0001", "https://a/mcp", nil, nil)
	ready.State = StateReady
	ready.Tools = []*mcpsdk.Tool{{Name: "echo"}}

	pending := newConnection("pend0001", "https://b/mcp", nil, nil)
	pending.State = StateAuthenticating
	pending.Tools = []*mcpsdk.Tool{{Name: "hidden"}}

	m := &Manager{connections: map[string]*Connection{
		"ready0001": ready,
		"pend0001":  pending,
	}}

	tools := m.ListTools()
	if len(tools) != 1 {
		t.Fatalf("len(tools) = %d, want 1 (only ready connections contribute)", len(tools))
	}
	if tools[0].ServerID != "ready0001" || tools[0].Tool.Name != "echo" {
		t.Fatalf("unexpected tool entry: %+v", tools[0])
	}
}

func TestReadyConnectionRejectsNonReadyState(t *testing.T) {
	conn := newConnection("srv00001", "https://a/mcp", nil, nil)
	conn.State = StateFailed
	m := &Manager{connections: map[string]*Connection{"srv00001": conn}}

	if _, ok := m.readyConnection("srv00001"); ok {
		t.Fatal("expected readyConnection to reject a failed connection")
	}
}
