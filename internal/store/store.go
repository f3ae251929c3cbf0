// Package store provides the embedded SQLite entity store for ember-core.
//
// The database runs in embedded mode with WAL enabled so readers never block
// behind the single writer. One table exists per entity type, plus a
// sync_checkpoints table tracking the last successful pull per type.
//
// The store owns schema and indices only; all per-entity SQL lives in the
// repo package so the domain<->persisted conversion has a single home.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emberchat/ember-core/internal/entity"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Sentinel errors surfaced by the store and the repositories layered on it.
var (
	// ErrNotFound is returned when an update or delete targets a missing id.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("store is closed")

	// ErrConstraint is returned when a hard insert collides with an
	// existing id.
	ErrConstraint = errors.New("constraint violation")
)

// DB wraps the SQLite connection with ember-specific schema management.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the given path, creating parent
// directories as needed. Pass ":memory:" for an ephemeral database (used by
// tests); memory databases are pinned to a single connection so every
// statement sees the same data.
//
// The caller MUST call Close when done.
func Open(path string) (*DB, error) {
	// Pragmas ride on the connection string so every pooled connection
	// gets them, not just the one that happened to run an Exec.
	const pragmas = "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	connStr := "file:" + path + pragmas
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// RawDB returns the underlying sql.DB connection for callers that need to
// run their own statements inside the store's serialization.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Conn returns the connection or ErrClosed after teardown.
func (db *DB) Conn() (*sql.DB, error) {
	if db.conn == nil {
		return nil, ErrClosed
	}
	return db.conn, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if db.path != ":memory:" {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error. Multi-row mutations go through here so a concurrent reader never
// observes a partial write.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := db.Conn()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Checkpoint returns the last successful pull time for an entity type, or
// the zero time when the type has never been pulled.
func (db *DB) Checkpoint(ctx context.Context, typ entity.Type) (time.Time, error) {
	conn, err := db.Conn()
	if err != nil {
		return time.Time{}, err
	}

	var raw string
	err = conn.QueryRowContext(ctx,
		`SELECT last_synced_at FROM sync_checkpoints WHERE entity_type = ?`,
		string(typ)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read checkpoint for %s: %w", typ, err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt checkpoint for %s: %w", typ, err)
	}
	return t, nil
}

// SetCheckpoint records the last successful pull time for an entity type.
func (db *DB) SetCheckpoint(ctx context.Context, typ entity.Type, at time.Time) error {
	conn, err := db.Conn()
	if err != nil {
		return err
	}

	query := `
	INSERT INTO sync_checkpoints (entity_type, last_synced_at)
	VALUES (?, ?)
	ON CONFLICT(entity_type) DO UPDATE SET
		last_synced_at = excluded.last_synced_at
	`
	if _, err := conn.ExecContext(ctx, query, string(typ), at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to set checkpoint for %s: %w", typ, err)
	}
	return nil
}

// PendingDeletions lists journaled hard deletes for an entity type, oldest
// first, awaiting delivery to the server.
func (db *DB) PendingDeletions(ctx context.Context, typ entity.Type) ([]string, error) {
	conn, err := db.Conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT id FROM sync_deletions WHERE entity_type = ? ORDER BY deleted_at, id`,
		string(typ))
	if err != nil {
		return nil, fmt.Errorf("failed to read deletion journal for %s: %w", typ, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to read deletion journal for %s: %w", typ, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearDeletion drops a journal entry once the server acknowledged the
// delete. Clearing an absent entry is a no-op.
func (db *DB) ClearDeletion(ctx context.Context, typ entity.Type, id string) error {
	conn, err := db.Conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx,
		`DELETE FROM sync_deletions WHERE entity_type = ? AND id = ?`,
		string(typ), id); err != nil {
		return fmt.Errorf("failed to clear deletion journal for %s %s: %w", typ, id, err)
	}
	return nil
}
