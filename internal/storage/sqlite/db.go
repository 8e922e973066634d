// Package sqlite hosts the rating cache, breaker state and pending rating
// requests in an embedded SQLite database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const busyTimeoutMillis = 5000

const schema = `
CREATE TABLE IF NOT EXISTS rating_cache (
	external_id  TEXT PRIMARY KEY,
	scaled       INTEGER NOT NULL,
	retrieved_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS rating_state (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS rating_queue (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	external_id TEXT NOT NULL,
	show_id     INTEGER NOT NULL DEFAULT 0,
	visible_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS rating_queue_visible ON rating_queue (visible_at, seq);
`

// DB is a single-connection SQLite handle shared by the table and the queue.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close releases the connection.
func (db *DB) Close() error {
	if db == nil || db.conn == nil {
		return nil
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
