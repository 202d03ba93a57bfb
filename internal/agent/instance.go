package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/workspace/agent-runtime/internal/mcp"
	"github.com/workspace/agent-runtime/internal/protocol"
	"github.com/workspace/agent-runtime/internal/storage"
)

// Instance is one hydrated, addressable agent: exactly one live actor for
// a (class, name) pair. All dispatch into the user agent goes through
// Instance.dispatch, which holds writeMu for the call's entire duration,
// including any suspension at storage or network I/O, so that at most
// one handler ever runs inside an instance at a time.
type Instance struct {
	key    Key
	class  *ClassDef
	agent  Agent
	store  *storage.Store
	mgr    *Manager
	mcpMgr *mcp.Manager

	writeMu sync.Mutex

	connMu      sync.RWMutex
	connections map[string]*Connection

	activityMu   sync.Mutex
	lastActivity time.Time

	events eventLog

	alarmMu      sync.Mutex
	alarmTimer   *time.Timer
	alarmStopped bool

	fireMu sync.Mutex

	destroyed bool
}

func hydrate(mgr *Manager, key Key, class *ClassDef, dbPath string) (*Instance, error) {
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store for %s/%s: %w", key.Class, key.Instance, err)
	}

	inst := &Instance{
		key:          key,
		class:        class,
		agent:        class.New(),
		store:        store,
		mgr:          mgr,
		mcpMgr:       mgr.mcp,
		connections:  make(map[string]*Connection),
		lastActivity: time.Now(),
	}
	inst.agent.New()

	inst.logEvent("instance.hydrated", "agent instance hydrated", nil)

	if err := inst.replayMissedFires(context.Background()); err != nil {
		slog.Error("replay missed fires on hydration", "class", key.Class, "instance", key.Instance, "error", err)
	}
	inst.reconnectMCPServers(context.Background())
	inst.armAlarm(context.Background())

	return inst, nil
}

func (i *Instance) touch() {
	i.activityMu.Lock()
	i.lastActivity = time.Now()
	i.activityMu.Unlock()
}

// LastActivity returns the time of the most recent dispatched handler.
func (i *Instance) LastActivity() time.Time {
	i.activityMu.Lock()
	defer i.activityMu.Unlock()
	return i.lastActivity
}

// dispatchStateKey is the context key under which the active dispatch's
// transaction and post-commit hooks are carried, so that a handler calling
// back into SetState/AppendChatMessage/etc. on the SAME instance reuses the
// in-flight transaction instead of deadlocking on writeMu.
type dispatchStateKey struct{}

type dispatchState struct {
	instance    *Instance
	tx          *sql.Tx
	afterCommit []func()
}

func dispatchStateFor(ctx context.Context, i *Instance) (*dispatchState, bool) {
	ds, ok := ctx.Value(dispatchStateKey{}).(*dispatchState)
	if !ok || ds.instance != i {
		return nil, false
	}
	return ds, true
}

// dispatch runs fn under the instance's single-writer lock and inside a
// fresh transaction. fn's writes all commit together on success; on error
// the transaction rolls back and no state broadcast is emitted, per the
// handler-exception error taxonomy. A call made from within another
// dispatch already running on i (e.g. a method body calling SetState on
// itself) reuses that call's transaction and lock instead of re-entering.
func (i *Instance) dispatch(ctx context.Context, inv *Invocation, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if ds, ok := dispatchStateFor(ctx, i); ok {
		return fn(ctx, ds.tx)
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	i.touch()
	inv.Instance = i
	ctx = withInvocation(ctx, inv)

	tx, err := i.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin handler transaction: %w", err)
	}

	ds := &dispatchState{instance: i, tx: tx}
	ctx = context.WithValue(ctx, dispatchStateKey{}, ds)

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback after handler error", "error", rbErr)
		}
		i.handleError(ctx, err)
		return err
	}

	if err := tx.Commit(); err != nil {
		i.handleError(ctx, err)
		return fmt.Errorf("commit handler transaction: %w", err)
	}

	for _, hook := range ds.afterCommit {
		hook()
	}

	return nil
}

// afterCommit schedules fn to run once the outermost dispatch call on ctx
// commits successfully. Used for side effects (broadcasts, handler
// notifications) that must not fire if a nested write later rolls the
// whole transaction back.
func (i *Instance) afterCommit(ctx context.Context, fn func()) {
	if ds, ok := dispatchStateFor(ctx, i); ok {
		ds.afterCommit = append(ds.afterCommit, fn)
		return
	}
	fn()
}

func (i *Instance) handleError(ctx context.Context, err error) {
	if h, ok := i.agent.(ErrorHandler); ok {
		h.OnError(ctx, err)
		return
	}
	slog.Error("unhandled agent error", "class", i.key.Class, "instance", i.key.Instance, "error", err)
}

// State returns the agent's current persisted state. Called from a handler
// running on this instance, it reads through that handler's transaction.
func (i *Instance) State(ctx context.Context) (json.RawMessage, error) {
	var tx *sql.Tx
	if ds, ok := dispatchStateFor(ctx, i); ok {
		tx = ds.tx
	}
	return i.store.GetState(ctx, tx)
}

// SetState atomically replaces the state blob, broadcasts
// {type:"cf_agent_state", state} to every open connection, and invokes
// OnStateUpdate on the agent if it implements StateUpdateHandler. source
// is "client" when triggered by an inbound cf_agent_state frame and
// "server" when called from within a method body.
func (i *Instance) SetState(ctx context.Context, state json.RawMessage, source string) error {
	inv := &Invocation{}
	return i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		if err := i.store.PutState(ctx, tx, state); err != nil {
			return err
		}
		i.afterCommit(ctx, func() {
			i.Broadcast(protocol.NewAgentStateFrame(state))
			if h, ok := i.agent.(StateUpdateHandler); ok {
				h.OnStateUpdate(ctx, state, source)
			}
		})
		return nil
	})
}

// Broadcast sends frame to every open connection on this instance.
func (i *Instance) Broadcast(frame any) {
	i.connMu.RLock()
	conns := make([]*Connection, 0, len(i.connections))
	for _, c := range i.connections {
		conns = append(conns, c)
	}
	i.connMu.RUnlock()

	for _, c := range conns {
		if err := c.WriteJSON(frame); err != nil {
			slog.Warn("broadcast write failed", "connection", c.ID, "error", err)
		}
	}
}

func (i *Instance) addConnection(c *Connection) {
	i.connMu.Lock()
	i.connections[c.ID] = c
	i.connMu.Unlock()
}

func (i *Instance) removeConnection(id string) {
	i.connMu.Lock()
	delete(i.connections, id)
	i.connMu.Unlock()
}

// ConnectionCount returns the number of currently open connections.
func (i *Instance) ConnectionCount() int {
	i.connMu.RLock()
	defer i.connMu.RUnlock()
	return len(i.connections)
}

// Destroy cancels all schedules, closes all connections, and deletes all
// per-agent rows. The instance is removed from the manager's registry;
// a subsequent resolution of the same key hydrates a fresh instance.
func (i *Instance) Destroy(ctx context.Context) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	i.stopAlarm()

	i.connMu.Lock()
	conns := make([]*Connection, 0, len(i.connections))
	for _, c := range i.connections {
		conns = append(conns, c)
	}
	i.connections = make(map[string]*Connection)
	i.connMu.Unlock()

	for _, c := range conns {
		_ = c.Close(1000, "instance destroyed")
	}

	if err := i.store.DeleteAll(ctx, nil); err != nil {
		return fmt.Errorf("delete all rows on destroy: %w", err)
	}

	i.destroyed = true
	i.mgr.forget(i.key)

	return i.store.Close()
}

func newID() string {
	return uuid.NewString()
}

// DispatchRequest forwards req to the agent's RequestHandler, if it
// implements one. handled is false when the agent has no RequestHandler, so the
// router can fall back to a 404.
func (i *Instance) DispatchRequest(ctx context.Context, w ResponseWriter, req *Request) (handled bool, err error) {
	h, ok := i.agent.(RequestHandler)
	if !ok {
		return false, nil
	}

	inv := &Invocation{Request: req}
	dispatchErr := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return h.OnRequest(ctx, w, req)
	})
	return true, dispatchErr
}

// DispatchConnect forwards a newly opened connection to the agent's
// ConnectHandler, if it implements one.
func (i *Instance) DispatchConnect(ctx context.Context, conn *Connection) error {
	h, ok := i.agent.(ConnectHandler)
	if !ok {
		return nil
	}
	inv := &Invocation{Connection: conn}
	return i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return h.OnConnect(ctx, conn)
	})
}

// DispatchMessage forwards an inbound non-control-protocol WS frame to the
// agent's MessageHandler, if it implements one.
func (i *Instance) DispatchMessage(ctx context.Context, conn *Connection, data []byte) error {
	h, ok := i.agent.(MessageHandler)
	if !ok {
		return nil
	}
	inv := &Invocation{Connection: conn}
	return i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return h.OnMessage(ctx, conn, data)
	})
}

// DispatchClose notifies the agent's CloseHandler, if it implements one,
// that conn has closed.
func (i *Instance) DispatchClose(ctx context.Context, conn *Connection, code int, reason string) {
	h, ok := i.agent.(CloseHandler)
	if !ok {
		return
	}
	inv := &Invocation{Connection: conn}
	if err := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return h.OnClose(ctx, conn, code, reason)
	}); err != nil {
		slog.Error("OnClose handler error", "connection", conn.ID, "error", err)
	}
}

// DispatchEmail forwards inbound email to the agent's EmailHandler, if it
// implements one.
func (i *Instance) DispatchEmail(ctx context.Context, email *Email) (handled bool, err error) {
	h, ok := i.agent.(EmailHandler)
	if !ok {
		return false, nil
	}
	inv := &Invocation{Email: email}
	dispatchErr := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return h.OnEmail(ctx, email)
	})
	return true, dispatchErr
}

// OpenConnection registers a freshly upgraded WebSocket as a Connection on
// this instance and, if the agent implements ConnectHandler, runs OnConnect
// before returning. On a handler error the connection is still registered;
// the caller is responsible for closing it.
func (i *Instance) OpenConnection(ctx context.Context, ws *websocket.Conn) (*Connection, error) {
	conn := newConnection(newID(), ws)
	i.addConnection(conn)
	if err := i.DispatchConnect(ctx, conn); err != nil {
		return conn, err
	}
	return conn, nil
}

// CloseConnection unregisters conn, notifies the agent's CloseHandler if
// implemented, and closes the underlying socket.
func (i *Instance) CloseConnection(ctx context.Context, conn *Connection, code int, reason string) {
	i.removeConnection(conn.ID)
	i.DispatchClose(ctx, conn, code, reason)
	_ = conn.Close(code, reason)
}

// ChatMessages returns the full persisted chat message log.
func (i *Instance) ChatMessages(ctx context.Context) ([]storage.ChatMessage, error) {
	return i.store.ListChatMessages(ctx, nil)
}

// AppendChatMessage appends message to the persisted chat log and
// broadcasts the updated log to every open connection.
func (i *Instance) AppendChatMessage(ctx context.Context, message json.RawMessage) error {
	inv := &Invocation{}
	return i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		if err := i.store.AppendChatMessage(ctx, tx, newID(), message); err != nil {
			return err
		}
		i.afterCommit(ctx, func() {
			if err := i.broadcastChatMessages(context.Background()); err != nil {
				slog.Error("broadcast chat messages", "error", err)
			}
		})
		return nil
	})
}

// ClearChatMessages deletes the persisted chat log and broadcasts a
// cf_agent_chat_clear frame to every open connection.
func (i *Instance) ClearChatMessages(ctx context.Context) error {
	inv := &Invocation{}
	return i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		if err := i.store.ClearChatMessages(ctx, tx); err != nil {
			return err
		}
		i.afterCommit(ctx, func() {
			i.Broadcast(protocol.ChatClearFrame{Type: protocol.TypeChatClear})
		})
		return nil
	})
}

func (i *Instance) broadcastChatMessages(ctx context.Context) error {
	msgs, err := i.store.ListChatMessages(ctx, nil)
	if err != nil {
		return err
	}
	raw := make([]json.RawMessage, len(msgs))
	for idx, m := range msgs {
		raw[idx] = m.Message
	}
	i.Broadcast(protocol.ChatMessagesFrame{Type: protocol.TypeChatMessages, Messages: raw})
	return nil
}
