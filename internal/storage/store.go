// Package storage provides per-agent SQLite-backed persistence: an opaque
// state blob, a work queue, schedules, MCP server bindings, and a chat
// message log. One Store is opened per hydrated agent instance.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store is the embedded relational store for a single agent instance.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dbPath, creating parent
// directories as needed, and applies any pending migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Only modernc.org/sqlite's single connection keeps WAL mode effective
	// for a file shared between concurrent goroutines within this process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB. Nothing in the module calls it; the
// agent package begins its handler-scoped transactions through
// Store.BeginTx.
func (s *Store) DB() *sql.DB {
	return s.db
}

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_create_state",
		sql: `
			CREATE TABLE IF NOT EXISTS state (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				data TEXT NOT NULL DEFAULT 'null',
				updated_at TEXT NOT NULL
			);
		`,
	},
	{
		name: "002_create_queue",
		sql: `
			CREATE TABLE IF NOT EXISTS queue (
				id TEXT PRIMARY KEY,
				callback TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT 'null',
				created_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_queue_created_at ON queue(created_at, id);
		`,
	},
	{
		name: "003_create_schedule",
		sql: `
			CREATE TABLE IF NOT EXISTS schedule (
				id TEXT PRIMARY KEY,
				callback TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT 'null',
				type TEXT NOT NULL,
				time INTEGER NOT NULL,
				delay_seconds INTEGER NOT NULL DEFAULT 0,
				cron TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_schedule_time ON schedule(time);
		`,
	},
	{
		name: "004_create_mcp_servers",
		sql: `
			CREATE TABLE IF NOT EXISTS mcp_servers (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				server_url TEXT NOT NULL,
				callback_url TEXT NOT NULL DEFAULT '',
				client_id TEXT NOT NULL DEFAULT '',
				client_secret TEXT NOT NULL DEFAULT '',
				auth_url TEXT NOT NULL DEFAULT '',
				server_options TEXT NOT NULL DEFAULT '{}'
			);
		`,
	},
	{
		name: "005_create_chat_messages",
		sql: `
			CREATE TABLE IF NOT EXISTS chat_messages (
				id TEXT PRIMARY KEY,
				message TEXT NOT NULL,
				created_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_chat_messages_created_at ON chat_messages(created_at, id);
		`,
	},
}

// migrate applies any migrations not yet recorded in schema_migrations, each
// in its own transaction, in order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.Query("SELECT name FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration name: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate applied migrations: %w", err)
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		slog.Info("applying storage migration", "name", m.name)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (name, applied_at) VALUES (?, datetime('now'))", m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.name, err)
		}
	}

	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting accessor methods
// below run either standalone or inside a handler-scoped transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ex returns tx if non-nil, else the store's own *sql.DB. Accessor methods
// take an optional *sql.Tx so a handler invocation's writes can all share
// one transaction while read-only callers outside a handler pass nil.
func (s *Store) ex(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return s.db
}

// BeginTx starts a transaction for a single handler invocation.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
