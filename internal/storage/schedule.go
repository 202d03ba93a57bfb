package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduleType identifies how a Schedule's next fire time is computed.
type ScheduleType string

const (
	ScheduleTypeScheduled ScheduleType = "scheduled"
	ScheduleTypeDelayed   ScheduleType = "delayed"
	ScheduleTypeCron      ScheduleType = "cron"
)

// Schedule is one pending scheduled callback.
type Schedule struct {
	ID           string
	Callback     string
	Payload      json.RawMessage
	Type         ScheduleType
	Time         int64 // absolute epoch seconds of next fire
	DelaySeconds int64
	Cron         string
	CreatedAt    string
}

// PutSchedule inserts a schedule row; if the id already exists only its Time
// is updated (used by the cron case, which rewrites Time to the next
// computed fire after firing).
func (s *Store) PutSchedule(ctx context.Context, tx *sql.Tx, sch Schedule) error {
	if len(sch.Payload) == 0 {
		sch.Payload = json.RawMessage("null")
	}
	if sch.CreatedAt == "" {
		sch.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	_, err := s.ex(tx).ExecContext(ctx,
		`INSERT INTO schedule (id, callback, payload, type, time, delay_seconds, cron, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET time = excluded.time`,
		sch.ID, sch.Callback, string(sch.Payload), string(sch.Type), sch.Time, sch.DelaySeconds, sch.Cron, sch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put schedule: %w", err)
	}
	return nil
}

// ListSchedules returns every live schedule row, ordered by next fire time.
func (s *Store) ListSchedules(ctx context.Context, tx *sql.Tx) ([]Schedule, error) {
	rows, err := s.ex(tx).QueryContext(ctx,
		"SELECT id, callback, payload, type, time, delay_seconds, cron, created_at FROM schedule ORDER BY time ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var scheds []Schedule
	for rows.Next() {
		var sch Schedule
		var payload, typ string
		if err := rows.Scan(&sch.ID, &sch.Callback, &payload, &typ, &sch.Time, &sch.DelaySeconds, &sch.Cron, &sch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		sch.Payload = json.RawMessage(payload)
		sch.Type = ScheduleType(typ)
		scheds = append(scheds, sch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return scheds, nil
}

// ListDueSchedules returns schedules whose Time is <= nowEpoch.
func (s *Store) ListDueSchedules(ctx context.Context, tx *sql.Tx, nowEpoch int64) ([]Schedule, error) {
	rows, err := s.ex(tx).QueryContext(ctx,
		"SELECT id, callback, payload, type, time, delay_seconds, cron, created_at FROM schedule WHERE time <= ? ORDER BY time ASC",
		nowEpoch,
	)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var scheds []Schedule
	for rows.Next() {
		var sch Schedule
		var payload, typ string
		if err := rows.Scan(&sch.ID, &sch.Callback, &payload, &typ, &sch.Time, &sch.DelaySeconds, &sch.Cron, &sch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan due schedule: %w", err)
		}
		sch.Payload = json.RawMessage(payload)
		sch.Type = ScheduleType(typ)
		scheds = append(scheds, sch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due schedules: %w", err)
	}
	return scheds, nil
}

// DeleteSchedule removes a schedule row (used for one-shot scheduled/delayed
// fires; cron fires call PutSchedule again instead).
func (s *Store) DeleteSchedule(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := s.ex(tx).ExecContext(ctx, "DELETE FROM schedule WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}
