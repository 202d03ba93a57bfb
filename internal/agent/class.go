package agent

import (
	"context"
	"encoding/json"
	"time"
)

// Agent is the minimal contract a user-defined agent type must satisfy.
// Everything else (request/connect/message/close/error/email hooks) is
// opted into via the optional interfaces below, following the same
// "implement only what you use" pattern as io.Closer in the standard
// library rather than a single large interface with empty default methods.
type Agent interface {
	// New is called once per hydration, before any handler runs, so the
	// agent can read its own persisted state if it needs to.
	New()
}

// RequestHandler lets an agent intercept HTTP requests routed to it beyond
// the well-known /setState, /getState, and JSON-RPC endpoints.
type RequestHandler interface {
	OnRequest(ctx context.Context, w ResponseWriter, r *Request) error
}

// ConnectHandler is invoked once per new WebSocket connection, before any
// OnMessage call for that connection.
type ConnectHandler interface {
	OnConnect(ctx context.Context, conn *Connection) error
}

// MessageHandler is invoked for every non-control-protocol WS text or
// binary frame (control frames like cf_agent_state/rpc are handled by the
// dispatcher itself and never reach this hook).
type MessageHandler interface {
	OnMessage(ctx context.Context, conn *Connection, data []byte) error
}

// CloseHandler is invoked when a connection closes, for any reason.
type CloseHandler interface {
	OnClose(ctx context.Context, conn *Connection, code int, reason string) error
}

// ErrorHandler is invoked whenever a dispatched handler returns an error.
// The default behavior (no ErrorHandler implemented) is to log and
// re-surface the error to the caller.
type ErrorHandler interface {
	OnError(ctx context.Context, err error)
}

// EmailHandler is invoked when inbound email addressed to this instance is
// delivered by the host.
type EmailHandler interface {
	OnEmail(ctx context.Context, email *Email) error
}

// StateUpdateHandler is notified after every successful setState, once per
// call, with the source of the update.
type StateUpdateHandler interface {
	OnStateUpdate(ctx context.Context, state json.RawMessage, source string)
}

// Request and ResponseWriter are the narrow request/response views handed
// to RequestHandler; they avoid exposing the full net/http types so a
// non-HTTP host (tests, alternate transports) can satisfy the contract.
type Request struct {
	Method string
	Path   string
	Header map[string][]string
	Body   []byte
}

type ResponseWriter interface {
	WriteHeader(status int)
	Write(p []byte) (int, error)
	Header() map[string][]string
}

// Email is the minimal inbound-email shape delivered to OnEmail.
type Email struct {
	From    string
	To      string
	Subject string
	Body    []byte
}

// RPCMethod is a one-shot callable method: it receives the raw JSON args
// array and returns a JSON-marshalable result.
type RPCMethod func(ctx context.Context, args json.RawMessage) (any, error)

// StreamingRPCMethod is a callable method that emits results incrementally
// through sink instead of returning a single value.
type StreamingRPCMethod func(ctx context.Context, args json.RawMessage, sink *StreamSink) error

// ClassDef describes one registered agent class: how to construct a fresh
// instance and which methods are callable over RPC.
type ClassDef struct {
	Name        string
	New         func() Agent
	methods     map[string]RPCMethod
	streaming   map[string]StreamingRPCMethod
	IdleTimeout time.Duration
}

// NewClassDef creates an empty class definition ready for Callable/Streaming
// registration.
func NewClassDef(name string, constructor func() Agent) *ClassDef {
	return &ClassDef{
		Name:      name,
		New:       constructor,
		methods:   make(map[string]RPCMethod),
		streaming: make(map[string]StreamingRPCMethod),
	}
}

// Callable registers name as invocable over RPC, backed by fn. Methods not
// registered here are never reachable from a peer, per the opt-in
// callable-method model.
func (c *ClassDef) Callable(name string, fn RPCMethod) *ClassDef {
	c.methods[name] = fn
	return c
}

// Streaming registers name as an invocable streaming method.
func (c *ClassDef) Streaming(name string, fn StreamingRPCMethod) *ClassDef {
	c.streaming[name] = fn
	return c
}

func (c *ClassDef) lookup(name string) (RPCMethod, StreamingRPCMethod, bool) {
	if fn, ok := c.methods[name]; ok {
		return fn, nil, true
	}
	if fn, ok := c.streaming[name]; ok {
		return nil, fn, true
	}
	return nil, nil, false
}
