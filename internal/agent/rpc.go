package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/workspace/agent-runtime/internal/protocol"
)

// StreamSink is handed to a StreamingRPCMethod instead of it returning an
// iterator: a one-way send/end sink makes error semantics and backpressure
// explicit, per spec's preferred streaming-RPC shape.
type StreamSink struct {
	mu     sync.Mutex
	ended  bool
	onSend func(chunk json.RawMessage, done bool) error
}

func newDiscardSink() *StreamSink {
	return &StreamSink{onSend: func(json.RawMessage, bool) error { return nil }}
}

// Send emits one non-terminal chunk.
func (s *StreamSink) Send(chunk any) error {
	return s.emit(chunk, false)
}

// End emits the terminal chunk and closes the sink. Any further Send or End
// call fails.
func (s *StreamSink) End(final any) error {
	return s.emit(final, true)
}

func (s *StreamSink) emit(v any, done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return fmt.Errorf("StreamingResponse is already closed")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal stream chunk: %w", err)
	}
	if done {
		s.ended = true
	}
	return s.onSend(raw, done)
}

// DispatchRPC resolves method on the instance's class and invokes it:
// resolve, establish the ambient invocation context, invoke, and translate
// the outcome into zero or more wire responses delivered via emit. emit is
// called once for a one-shot result, or once per chunk (plus a final
// done:true) for a streaming method.
func (i *Instance) DispatchRPC(ctx context.Context, inv *Invocation, id, method string, args json.RawMessage, emit func(protocol.RPCResponse)) {
	fn, streamFn, ok := i.class.lookup(method)
	if !ok {
		emit(protocol.NewRPCMethodNotFoundError(id, fmt.Errorf("method not found")))
		return
	}

	if streamFn != nil {
		sink := &StreamSink{onSend: func(chunk json.RawMessage, done bool) error {
			emit(protocol.NewRPCChunk(id, chunk, done))
			return nil
		}}
		err := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
			return streamFn(ctx, args, sink)
		})
		if err != nil {
			emit(protocol.NewRPCError(id, err))
		}
		return
	}

	var result any
	err := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		r, callErr := fn(ctx, args)
		if callErr != nil {
			return callErr
		}
		result = r
		return nil
	})
	if err != nil {
		emit(protocol.NewRPCError(id, err))
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		emit(protocol.NewRPCError(id, fmt.Errorf("marshal result: %w", err)))
		return
	}
	emit(protocol.NewRPCResult(id, raw))
}
