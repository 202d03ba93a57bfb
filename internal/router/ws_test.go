package router

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/workspace/agent-runtime/internal/protocol"
)

func TestWebSocketRPCRoundTrip(t *testing.T) {
	rt := newTestRouter(t)
	srv := httptest.NewServer(rt)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agents/counter/instance-1"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	req := protocol.RPCRequest{Type: protocol.TypeRPC, ID: "r1", Method: "addNumbers", Args: mustJSON(t, []float64{10, 32})}
	if err := ws.WriteJSON(req); err != nil {
		t.Fatalf("write rpc request: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp protocol.RPCResponse
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read rpc response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}
	if string(resp.Result) != "42" {
		t.Fatalf("result = %s, want 42", resp.Result)
	}
}

func TestWebSocketSetStateBroadcastsToOtherConnections(t *testing.T) {
	rt := newTestRouter(t)
	srv := httptest.NewServer(rt)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agents/counter/instance-1"

	watcher, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial watcher: %v", err)
	}
	defer watcher.Close()

	setter, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial setter: %v", err)
	}
	defer setter.Close()

	state := protocol.NewAgentStateFrame(mustJSON(t, map[string]int{"n": 7}))
	if err := setter.WriteJSON(state); err != nil {
		t.Fatalf("write state frame: %v", err)
	}

	watcher.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got protocol.AgentStateFrame
	if err := watcher.ReadJSON(&got); err != nil {
		t.Fatalf("read broadcast state: %v", err)
	}
	if got.Type != protocol.TypeAgentState {
		t.Fatalf("Type = %q, want %q", got.Type, protocol.TypeAgentState)
	}
	if string(got.State) != `{"n":7}` {
		t.Fatalf("State = %s, want {\"n\":7}", got.State)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
