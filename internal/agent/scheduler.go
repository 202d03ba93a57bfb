package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/workspace/agent-runtime/internal/storage"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule normalizes when into a schedule row and persists it. when is one
// of: time.Time (absolute), a non-negative number of seconds from now, or a
// standard 5-field cron expression string. It returns the row's stable id.
func (i *Instance) Schedule(ctx context.Context, when any, callback string, payload json.RawMessage) (string, error) {
	if _, ok := i.class.lookup(callback); !ok {
		return "", fmt.Errorf("schedule: callback %q is not registered on class %q", callback, i.class.Name)
	}

	sch, err := normalizeSchedule(when, callback, payload)
	if err != nil {
		return "", err
	}
	sch.ID = newID()

	inv := &Invocation{}
	err = i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return i.store.PutSchedule(ctx, tx, sch)
	})
	if err != nil {
		return "", err
	}
	// Inside another handler the outer transaction holds the store's only
	// connection, so re-arming (which reads outside it) waits for its commit.
	i.afterCommit(ctx, func() { i.armAlarm(ctx) })
	return sch.ID, nil
}

func normalizeSchedule(when any, callback string, payload json.RawMessage) (storage.Schedule, error) {
	now := time.Now()

	switch v := when.(type) {
	case time.Time:
		return storage.Schedule{
			Callback: callback,
			Payload:  payload,
			Type:     storage.ScheduleTypeScheduled,
			Time:     v.Unix(),
		}, nil
	case int:
		return delayedSchedule(now, int64(v), callback, payload)
	case int64:
		return delayedSchedule(now, v, callback, payload)
	case float64:
		return delayedSchedule(now, int64(v), callback, payload)
	case string:
		next, err := nextCronFire(v, now)
		if err != nil {
			return storage.Schedule{}, fmt.Errorf("schedule: invalid cron expression %q: %w", v, err)
		}
		return storage.Schedule{
			Callback: callback,
			Payload:  payload,
			Type:     storage.ScheduleTypeCron,
			Time:     next,
			Cron:     v,
		}, nil
	default:
		return storage.Schedule{}, fmt.Errorf("schedule: unsupported when value of type %T", when)
	}
}

func delayedSchedule(now time.Time, seconds int64, callback string, payload json.RawMessage) (storage.Schedule, error) {
	if seconds < 0 {
		return storage.Schedule{}, fmt.Errorf("schedule: delay seconds must be non-negative, got %d", seconds)
	}
	return storage.Schedule{
		Callback:     callback,
		Payload:      payload,
		Type:         storage.ScheduleTypeDelayed,
		Time:         now.Add(time.Duration(seconds) * time.Second).Unix(),
		DelaySeconds: seconds,
	}, nil
}

// nextCronFire is the only place cronParser (robfig/cron's parser limited to
// the five standard fields, without @-descriptors) is used:
// a pure "what is the next fire time after t" function, not a running
// scheduler loop. The single-alarm, persist-and-replay model this runtime
// implements computes the next fire once per schedule and stores it,
// rather than keeping a *cron.Cron ticking in memory.
func nextCronFire(expr string, after time.Time) (int64, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0, err
	}
	return sched.Next(after).Unix(), nil
}

// NextAlarm returns the earliest due time across all schedule and queue
// rows, or false if nothing is pending.
func (i *Instance) NextAlarm(ctx context.Context) (time.Time, bool, error) {
	scheds, err := i.store.ListSchedules(ctx, nil)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("list schedules for alarm: %w", err)
	}
	items, err := i.store.ListQueueItems(ctx, nil)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("list queue items for alarm: %w", err)
	}

	var earliest time.Time
	found := false
	for _, s := range scheds {
		t := time.Unix(s.Time, 0)
		if !found || t.Before(earliest) {
			earliest, found = t, true
		}
	}
	if len(items) > 0 {
		now := time.Now()
		if !found || now.Before(earliest) {
			earliest, found = now, true
		}
	}
	return earliest, found, nil
}

// armAlarm (re)computes the next due time across schedules and queue items
// and resets the instance's single alarm timer to fire then, per §4.F/§4.G's
// "a single alarm is set at min(time)". Called after hydration and after
// every Schedule/Queue insert, and again once an alarm fires so a cron
// advance or a newly inserted row is picked up for the next tick.
func (i *Instance) armAlarm(ctx context.Context) {
	next, ok, err := i.NextAlarm(ctx)
	if err != nil {
		slog.Error("compute next alarm", "class", i.key.Class, "instance", i.key.Instance, "error", err)
		return
	}

	i.alarmMu.Lock()
	defer i.alarmMu.Unlock()

	if i.alarmTimer != nil {
		i.alarmTimer.Stop()
		i.alarmTimer = nil
	}
	if i.alarmStopped || !ok {
		return
	}

	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	i.alarmTimer = time.AfterFunc(delay, i.onAlarm)
}

// stopAlarm permanently disarms the instance's alarm timer; called from
// Destroy and evict so a timer already in flight doesn't fire against a
// closed store.
func (i *Instance) stopAlarm() {
	i.alarmMu.Lock()
	defer i.alarmMu.Unlock()
	i.alarmStopped = true
	if i.alarmTimer != nil {
		i.alarmTimer.Stop()
		i.alarmTimer = nil
	}
}

// onAlarm is the *time.AfterFunc callback: fire everything due, then
// re-arm for whatever is due next.
func (i *Instance) onAlarm() {
	ctx := context.Background()
	if err := i.FireAlarm(ctx, time.Now()); err != nil {
		slog.Error("fire alarm", "class", i.key.Class, "instance", i.key.Instance, "error", err)
	}
	i.armAlarm(ctx)
}

// FireAlarm selects all schedule rows due at or before now, invokes each
// callback in ascending time order, then drains the queue in FIFO order.
// It is the single entry point that the live alarm timer, hydration-time
// missed-fire replay, and any caller driving the alarm directly all funnel
// through. fireMu serializes overlapping calls (e.g. a timer fire racing a
// manual replay) so two firings never select and process the same due row.
func (i *Instance) FireAlarm(ctx context.Context, now time.Time) error {
	i.fireMu.Lock()
	defer i.fireMu.Unlock()

	if err := i.fireDueSchedules(ctx, now); err != nil {
		return err
	}
	return i.drainQueue(ctx)
}

func (i *Instance) fireDueSchedules(ctx context.Context, now time.Time) error {
	due, err := i.store.ListDueSchedules(ctx, nil, now.Unix())
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	for _, sch := range due {
		fn, streamFn, ok := i.class.lookup(sch.Callback)
		if !ok {
			slog.Warn("scheduled callback no longer registered, dropping", "class", i.class.Name, "callback", sch.Callback)
			i.deleteOrAdvanceSchedule(ctx, sch, now)
			continue
		}

		inv := &Invocation{}
		callErr := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
			if streamFn != nil {
				sink := newDiscardSink()
				return streamFn(ctx, sch.Payload, sink)
			}
			_, err := fn(ctx, sch.Payload)
			return err
		})

		if callErr != nil {
			// At-least-once: leave the row for the next alarm tick.
			i.logEvent("schedule.fire_failed", "scheduled callback returned an error", map[string]any{
				"callback": sch.Callback, "error": callErr.Error(),
			})
			continue
		}
		i.logEvent("schedule.fired", "scheduled callback fired", map[string]any{"callback": sch.Callback})
		i.deleteOrAdvanceSchedule(ctx, sch, now)
	}
	return nil
}

func (i *Instance) deleteOrAdvanceSchedule(ctx context.Context, sch storage.Schedule, now time.Time) {
	if sch.Type != storage.ScheduleTypeCron {
		inv := &Invocation{}
		if err := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
			return i.store.DeleteSchedule(ctx, tx, sch.ID)
		}); err != nil {
			slog.Error("delete fired schedule", "id", sch.ID, "error", err)
		}
		return
	}

	next, err := nextCronFire(sch.Cron, now)
	if err != nil {
		slog.Error("compute next cron fire", "id", sch.ID, "cron", sch.Cron, "error", err)
		return
	}
	sch.Time = next
	inv := &Invocation{}
	if err := i.dispatch(ctx, inv, func(ctx context.Context, tx *sql.Tx) error {
		return i.store.PutSchedule(ctx, tx, sch)
	}); err != nil {
		slog.Error("advance cron schedule", "id", sch.ID, "error", err)
	}
}

// replayMissedFires runs on hydration: any schedule whose time has already
// passed fires immediately, in ascending time order, before any request or
// WS message handler runs against this instance.
func (i *Instance) replayMissedFires(ctx context.Context) error {
	return i.FireAlarm(ctx, time.Now())
}
