package agent

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// ReadyState mirrors the WebSocket readyState values exposed to user code.
type ReadyState int

const (
	ReadyStateConnecting ReadyState = iota
	ReadyStateOpen
	ReadyStateClosing
	ReadyStateClosed
)

// Connection is one live WebSocket bound to exactly one agent instance.
// Writes are serialized through writeMu, since gorilla/websocket
// connections are not safe for concurrent writers.
type Connection struct {
	ID string

	mu    sync.RWMutex
	ws    *websocket.Conn
	state json.RawMessage
	ready ReadyState

	writeMu sync.Mutex
}

func newConnection(id string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:    id,
		ws:    ws,
		state: json.RawMessage("null"),
		ready: ReadyStateOpen,
	}
}

// State returns the connection's user-visible state blob.
func (c *Connection) State() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState replaces the connection's user-visible state blob. This is
// distinct from agent instance state: it is per-connection, not persisted.
func (c *Connection) SetState(state json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// ReadyState returns the connection's current lifecycle state.
func (c *Connection) ReadyState() ReadyState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// WriteJSON marshals v and sends it as a text frame, serialized against
// any concurrent write to this connection.
func (c *Connection) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// Close closes the underlying socket with the given close code and reason.
func (c *Connection) Close(code int, reason string) error {
	c.mu.Lock()
	c.ready = ReadyStateClosing
	c.mu.Unlock()

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadlineNow())
	c.writeMu.Unlock()

	err := c.ws.Close()

	c.mu.Lock()
	c.ready = ReadyStateClosed
	c.mu.Unlock()

	return err
}
