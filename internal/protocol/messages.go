// Package protocol defines the JSON frame types exchanged over an agent's
// WebSocket control connection and the JSON-RPC 2.0 envelope used by the
// HTTP fallback. It holds only wire types; dispatch lives in internal/agent.
package protocol

import "encoding/json"

// Frame type discriminants. A frame with an unrecognized Type is ignored by
// the receiver rather than treated as an error.
const (
	TypeAgentState         = "cf_agent_state"
	TypeRPC                 = "rpc"
	TypeUseChatRequest      = "cf_agent_use_chat_request"
	TypeUseChatResponse     = "cf_agent_use_chat_response"
	TypeChatRequestCancel   = "cf_agent_chat_request_cancel"
	TypeChatMessages        = "cf_agent_chat_messages"
	TypeChatClear           = "cf_agent_chat_clear"
)

// Envelope is the minimal shape every inbound frame is first decoded into,
// just enough to read Type and re-decode the rest based on it.
type Envelope struct {
	Type string `json:"type"`
}

// AgentStateFrame carries a full state replacement, in either direction.
type AgentStateFrame struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

// NewAgentStateFrame builds an outbound cf_agent_state notification.
func NewAgentStateFrame(state json.RawMessage) AgentStateFrame {
	return AgentStateFrame{Type: TypeAgentState, State: state}
}

// RPCRequest is an inbound invocation of a callable method over the
// WebSocket control connection.
type RPCRequest struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

// RPCResponse is an outbound reply to an RPCRequest: a one-shot result, a
// streaming chunk (Done=false), a streaming final value (Done=true), or an
// error (Success=false).
type RPCResponse struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Done    *bool           `json:"done,omitempty"`
	// NotFound distinguishes "no such method" from a method that resolved
	// and returned an error; it isn't part of the WS wire shape, only a
	// hint for callers (e.g. the JSON-RPC front door) that need a
	// different error code for each case.
	NotFound bool `json:"-"`
}

func boolPtr(b bool) *bool { return &b }

// NewRPCResult builds a one-shot (non-streaming) success response.
func NewRPCResult(id string, result json.RawMessage) RPCResponse {
	return RPCResponse{Type: TypeRPC, ID: id, Success: true, Result: result}
}

// NewRPCChunk builds a streaming chunk; final=true marks the terminal chunk.
func NewRPCChunk(id string, result json.RawMessage, final bool) RPCResponse {
	return RPCResponse{Type: TypeRPC, ID: id, Success: true, Result: result, Done: boolPtr(final)}
}

// NewRPCError builds a failure response for a method that resolved but
// returned an error.
func NewRPCError(id string, err error) RPCResponse {
	return RPCResponse{Type: TypeRPC, ID: id, Success: false, Error: err.Error()}
}

// NewRPCMethodNotFoundError builds a failure response for a method name
// that isn't registered on the class at all.
func NewRPCMethodNotFoundError(id string, err error) RPCResponse {
	return RPCResponse{Type: TypeRPC, ID: id, Success: false, Error: err.Error(), NotFound: true}
}

// UseChatRequestFrame delivers an HTTP-shaped request to the chat handler
// over the control connection, for clients that tunnel fetch-like calls
// through the WebSocket instead of issuing them directly.
type UseChatRequestFrame struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Init json.RawMessage `json:"init"`
}

// UseChatResponseFrame is a chunk of the chunked response body for a
// UseChatRequestFrame; Done marks the final chunk.
type UseChatResponseFrame struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
	Done bool            `json:"done"`
}

// ChatRequestCancelFrame aborts the in-flight chat request identified by ID.
type ChatRequestCancelFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ChatMessagesFrame syncs the full chat message array in either direction.
type ChatMessagesFrame struct {
	Type     string            `json:"type"`
	Messages []json.RawMessage `json:"messages"`
}

// ChatClearFrame clears message history; carries no payload beyond Type.
type ChatClearFrame struct {
	Type string `json:"type"`
}

// JSONRPCRequest is the envelope accepted on HTTP POST / for agents, per
// the JSON-RPC 2.0 convention.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// JSONRPCResponse is the JSON-RPC 2.0 reply to a JSONRPCRequest.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is the error object of a JSONRPCResponse.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	// JSONRPCMethodNotFound matches the JSON-RPC 2.0 reserved code for an
	// unresolvable method.
	JSONRPCMethodNotFound = -32601
	// JSONRPCInternalError is used for errors raised by the method itself.
	JSONRPCInternalError = -32603
)

// NewJSONRPCResult builds a successful JSON-RPC 2.0 response.
func NewJSONRPCResult(id json.RawMessage, result json.RawMessage) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

// NewJSONRPCError builds an error JSON-RPC 2.0 response.
func NewJSONRPCError(id json.RawMessage, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}}
}
