package agent

import "context"

// invocationKey is the unexported context key type for the ambient
// invocation context: a typed key, never a bare string, and a single
// Get/With pair rather than an exported mutable global.
type invocationKey struct{}

// Invocation is the ambient state available to a method body for the
// duration of one dispatched call, mirroring getCurrentAgent() in systems
// that expose a task-local equivalent. At most one of Connection/Request/
// Email is set, depending on what triggered the call; all three are nil
// for scheduled and queued callbacks and for the instance's own writes
// (SetState, Schedule, Queue and the like) entered outside another handler.
type Invocation struct {
	Instance   *Instance
	Connection *Connection
	Request    *Request
	Email      *Email
}

// withInvocation returns a context carrying inv, set on entry to every
// dispatched handler and read via CurrentInvocation for the call's
// duration.
func withInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// CurrentInvocation returns the ambient invocation for ctx, if any. It
// returns false outside of a dispatched handler.
func CurrentInvocation(ctx context.Context) (*Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(*Invocation)
	return inv, ok
}
