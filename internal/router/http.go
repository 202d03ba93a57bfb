package router

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/workspace/agent-runtime/internal/agent"
	"github.com/workspace/agent-runtime/internal/protocol"
)

// writeJSON is a small helper shared by the well-known agent endpoints.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// serveHTTP implements the well-known HTTP endpoints: POST /setState,
// GET /getState, and POST / for JSON-RPC. Any other tail is forwarded to
// the agent's RequestHandler if it implements one.
func (rt *Router) serveHTTP(w http.ResponseWriter, r *http.Request, inst *agent.Instance, tail string) {
	switch {
	case tail == "setState" && r.Method == http.MethodPost:
		rt.handleSetState(w, r, inst)
	case tail == "getState" && r.Method == http.MethodGet:
		rt.handleGetState(w, r, inst)
	case tail == "events" && r.Method == http.MethodGet:
		rt.handleEvents(w, r, inst)
	case tail == "" && r.Method == http.MethodPost && isJSONRPC(r):
		rt.handleJSONRPC(w, r, inst)
	default:
		rt.handleUserRequest(w, r, inst, tail)
	}
}

func isJSONRPC(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "application/json" || ct == "application/json; charset=utf-8"
}

func (rt *Router) handleSetState(w http.ResponseWriter, r *http.Request, inst *agent.Instance) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusInternalServerError, "malformed JSON body")
		return
	}
	if err := inst.SetState(r.Context(), body, "client"); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (rt *Router) handleGetState(w http.ResponseWriter, r *http.Request, inst *agent.Instance) {
	state, err := inst.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(state)
}

// handleEvents serves an instance's recent lifecycle events, honoring an
// optional "limit" query parameter.
func (rt *Router) handleEvents(w http.ResponseWriter, r *http.Request, inst *agent.Instance) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 500 {
		limit = 500
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": inst.Events(limit)})
}

func (rt *Router) handleJSONRPC(w http.ResponseWriter, r *http.Request, inst *agent.Instance) {
	var req protocol.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.NewJSONRPCError(nil, protocol.JSONRPCInternalError, "invalid JSON-RPC envelope"))
		return
	}

	var resp protocol.JSONRPCResponse
	inv := &agent.Invocation{Request: &agent.Request{Method: r.Method, Path: r.URL.Path}}
	inst.DispatchRPC(r.Context(), inv, "", req.Method, req.Params, func(rpc protocol.RPCResponse) {
		if rpc.Success {
			resp = protocol.NewJSONRPCResult(req.ID, rpc.Result)
			return
		}
		code := protocol.JSONRPCInternalError
		if rpc.NotFound {
			code = protocol.JSONRPCMethodNotFound
		}
		resp = protocol.NewJSONRPCError(req.ID, code, rpc.Error)
	})

	status := http.StatusOK
	if resp.Error != nil {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

// httpResponseWriter adapts net/http's ResponseWriter to the narrow
// agent.ResponseWriter contract handed to RequestHandler implementations.
type httpResponseWriter struct {
	w http.ResponseWriter
}

func (h httpResponseWriter) WriteHeader(status int)          { h.w.WriteHeader(status) }
func (h httpResponseWriter) Write(p []byte) (int, error)     { return h.w.Write(p) }
func (h httpResponseWriter) Header() map[string][]string     { return map[string][]string(h.w.Header()) }

func (rt *Router) handleUserRequest(w http.ResponseWriter, r *http.Request, inst *agent.Instance, tail string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	req := &agent.Request{
		Method: r.Method,
		Path:   tail,
		Header: map[string][]string(r.Header),
		Body:   body,
	}

	handled, err := inst.DispatchRequest(r.Context(), httpResponseWriter{w}, req)
	if !handled {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
