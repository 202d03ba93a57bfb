package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/workspace/agent-runtime/internal/agent"
	"github.com/workspace/agent-runtime/internal/protocol"
)

// upgrader validates the origin explicitly, since the WS handshake bypasses
// the CORS middleware entirely.
func (rt *Router) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  rt.cfg.WSReadBufferSize,
		WriteBufferSize: rt.cfg.WSWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(rt.cfg.AllowedOrigins) == 0 {
				return true
			}
			return rt.originAllowed(origin)
		},
	}
}

// serveWebSocket upgrades the connection, registers it on inst, and loops
// reading control-protocol frames until the socket closes: cf_agent_state
// replaces state and broadcasts, rpc is forwarded to Instance.DispatchRPC,
// and the chat frames manage the per-instance chat message log. Any other
// frame type is handed to the agent's MessageHandler if it implements one.
func (rt *Router) serveWebSocket(w http.ResponseWriter, r *http.Request, inst *agent.Instance) {
	ws, err := rt.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("router: websocket upgrade failed", "error", err)
		return
	}

	ctx := r.Context()
	conn, err := inst.OpenConnection(ctx, ws)
	if err != nil {
		slog.Error("router: OnConnect failed", "connection", conn.ID, "error", err)
		inst.CloseConnection(ctx, conn, websocket.CloseInternalServerErr, "connect handler failed")
		return
	}

	if msgs, err := inst.ChatMessages(ctx); err == nil && len(msgs) > 0 {
		raw := make([]json.RawMessage, len(msgs))
		for i, m := range msgs {
			raw[i] = m.Message
		}
		_ = conn.WriteJSON(protocol.ChatMessagesFrame{Type: protocol.TypeChatMessages, Messages: raw})
	}

	closeCode := websocket.CloseNormalClosure
	closeReason := ""
	defer func() {
		inst.CloseConnection(ctx, conn, closeCode, closeReason)
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("router: websocket read error", "connection", conn.ID, "error", err)
			}
			return
		}

		if err := rt.dispatchFrame(ctx, inst, conn, data); err != nil {
			slog.Error("router: frame handler error", "connection", conn.ID, "error", err)
			closeCode = websocket.CloseInternalServerErr
			closeReason = "handler error"
			return
		}
	}
}

// dispatchFrame decodes one inbound WS frame by its type discriminant and
// routes it to the matching control-protocol handling, falling back to the
// agent's MessageHandler for anything it doesn't recognize.
func (rt *Router) dispatchFrame(ctx context.Context, inst *agent.Instance, conn *agent.Connection, data []byte) error {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return inst.DispatchMessage(ctx, conn, data)
	}

	switch env.Type {
	case protocol.TypeAgentState:
		var frame protocol.AgentStateFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil
		}
		return inst.SetState(ctx, frame.State, "client")

	case protocol.TypeRPC:
		var req protocol.RPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil
		}
		inv := &agent.Invocation{Connection: conn}
		inst.DispatchRPC(ctx, inv, req.ID, req.Method, req.Args, func(resp protocol.RPCResponse) {
			if err := conn.WriteJSON(resp); err != nil {
				slog.Warn("router: rpc response write failed", "connection", conn.ID, "error", err)
			}
		})
		return nil

	case protocol.TypeChatMessages:
		var frame protocol.ChatMessagesFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil
		}
		for _, m := range frame.Messages {
			if err := inst.AppendChatMessage(ctx, m); err != nil {
				return err
			}
		}
		return nil

	case protocol.TypeChatClear:
		return inst.ClearChatMessages(ctx)

	case protocol.TypeChatRequestCancel, protocol.TypeUseChatRequest, protocol.TypeUseChatResponse:
		// Chat request/response tunneling is application-defined; forward
		// the raw frame to the agent's own MessageHandler if it wants it.
		return inst.DispatchMessage(ctx, conn, data)

	default:
		return inst.DispatchMessage(ctx, conn, data)
	}
}
