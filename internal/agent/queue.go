package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Queue enqueues callback to run with payload, processed in FIFO order by
// the alarm loop. It returns the row's stable id.
func (i *Instance) Queue(ctx context.Context, callback string, payload json.RawMessage) (string, error) {
	if _, ok := i.class.lookup(callback); !ok {
		return "", fmt.Errorf("queue: callback %q is not registered on class %q", callback, i.class.Name)
	}

	id := newID()
	inv := &Invocation{}
	err := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return i.store.EnqueueQueueItem(ctx, tx, id, callback, payload)
	})
	if err != nil {
		return "", err
	}
	// Inside another handler the outer transaction holds the store's only
	// connection, so re-arming (which reads outside it) waits for its commit.
	i.afterCommit(ctx, func() { i.armAlarm(ctx) })
	return id, nil
}

// drainQueue processes every queued item strictly in (created_at, id)
// order, one at a time: no parallelism inside an instance. A failing item
// is left in place for the next alarm tick (at-least-once, no dead-letter).
func (i *Instance) drainQueue(ctx context.Context) error {
	items, err := i.store.ListQueueItems(ctx, nil)
	if err != nil {
		return fmt.Errorf("list queue items: %w", err)
	}

	for _, item := range items {
		fn, streamFn, ok := i.class.lookup(item.Callback)
		if !ok {
			slog.Warn("queued callback no longer registered, dropping", "class", i.class.Name, "callback", item.Callback)
			i.deleteQueueItem(ctx, item.ID)
			continue
		}

		inv := &Invocation{}
		callErr := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
			if streamFn != nil {
				sink := newDiscardSink()
				return streamFn(ctx, item.Payload, sink)
			}
			_, err := fn(ctx, item.Payload)
			return err
		})
		if callErr != nil {
			i.logEvent("queue.item_failed", "queued callback returned an error", map[string]any{
				"callback": item.Callback, "error": callErr.Error(),
			})
			continue
		}
		i.deleteQueueItem(ctx, item.ID)
	}
	return nil
}

func (i *Instance) deleteQueueItem(ctx context.Context, id string) {
	inv := &Invocation{}
	if err := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return i.store.DeleteQueueItem(ctx, tx, id)
	}); err != nil {
		slog.Error("delete fired queue item", "id", id, "error", err)
	}
}
