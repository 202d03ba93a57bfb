package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/workspace/agent-runtime/internal/agent"
)

func newTestClass() *agent.ClassDef {
	def := agent.NewClassDef("Counter", func() agent.Agent { return &testAgent{} })
	def.Callable("addNumbers", func(ctx context.Context, args json.RawMessage) (any, error) {
		var nums []float64
		if err := json.Unmarshal(args, &nums); err != nil {
			return nil, err
		}
		var sum float64
		for _, n := range nums {
			sum += n
		}
		return sum, nil
	})
	return def
}

type testAgent struct{}

func (*testAgent) New() {}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	mgr := agent.NewManager(t.TempDir(), 0)
	if err := mgr.RegisterClass(newTestClass()); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	return New(mgr, Config{Prefix: "agents"})
}

func TestServeHTTPUnmatchedPathIs404(t *testing.T) {
	rt := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/not-an-agent-path", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestServeHTTPHealth(t *testing.T) {
	rt := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("status field = %v, want healthy", body["status"])
	}
}

func TestServeHTTPSetStateAndGetState(t *testing.T) {
	rt := newTestRouter(t)

	setReq := httptest.NewRequest(http.MethodPost, "/agents/counter/instance-1/setState", bytes.NewReader([]byte(`{"n":1}`)))
	setRec := httptest.NewRecorder()
	rt.ServeHTTP(setRec, setReq)
	if setRec.Code != http.StatusOK {
		t.Fatalf("setState status = %d, want 200, body=%s", setRec.Code, setRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/agents/counter/instance-1/getState", nil)
	getRec := httptest.NewRecorder()
	rt.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("getState status = %d, want 200", getRec.Code)
	}
	if getRec.Body.String() != `{"n":1}` {
		t.Fatalf("getState body = %s, want {\"n\":1}", getRec.Body.String())
	}
}

func TestServeHTTPUnknownInstanceTailIs404(t *testing.T) {
	rt := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/agents/counter/instance-1/no-such-route", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestServeHTTPEvents(t *testing.T) {
	rt := newTestRouter(t)

	setReq := httptest.NewRequest(http.MethodPost, "/agents/counter/instance-1/setState", bytes.NewReader([]byte(`{"n":1}`)))
	rt.ServeHTTP(httptest.NewRecorder(), setReq)

	req := httptest.NewRequest(http.MethodGet, "/agents/counter/instance-1/events", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Events []agent.EventRecord `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode events response: %v", err)
	}
	if len(body.Events) == 0 {
		t.Fatal("expected at least the hydration event")
	}
}

func TestServeHTTPJSONRPC(t *testing.T) {
	rt := newTestRouter(t)

	payload := []byte(`{"jsonrpc":"2.0","id":"1","method":"addNumbers","params":[3,4]}`)
	req := httptest.NewRequest(http.MethodPost, "/agents/counter/instance-1", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode JSON-RPC response: %v", err)
	}
	if string(resp.Result) != "7" {
		t.Fatalf("result = %s, want 7", resp.Result)
	}
}
