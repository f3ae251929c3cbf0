package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/store"
)

// Sync-facing operations. These are the only writes that do not re-stamp
// pending-push: acknowledging a push must not queue another one.

// PendingPush returns rows awaiting a push, oldest first. Tombstoned rows
// are included so soft deletes propagate to the server.
func (r *Repo[D]) PendingPush(ctx context.Context) ([]D, error) {
	query := r.selectSQL() + " WHERE sync_state IN (?, ?) ORDER BY created_at, rowid"
	return r.list(ctx, query, string(entity.SyncPending), string(entity.SyncLocalOnly))
}

// Conflicted returns rows whose last push was rejected for version
// divergence.
func (r *Repo[D]) Conflicted(ctx context.Context) ([]D, error) {
	query := r.selectSQL() + " WHERE sync_state = ? ORDER BY created_at, rowid"
	return r.list(ctx, query, string(entity.SyncConflict))
}

// MarkSynced records the server's acknowledgment of the row's current
// state. updated_at is deliberately untouched.
func (r *Repo[D]) MarkSynced(ctx context.Context, id string) error {
	return r.setSyncState(ctx, id, entity.SyncSynced, true)
}

// MarkConflict flags the row for last-write-wins resolution on the next
// reconciliation pass.
func (r *Repo[D]) MarkConflict(ctx context.Context, id string) error {
	return r.setSyncState(ctx, id, entity.SyncConflict, false)
}

func (r *Repo[D]) setSyncState(ctx context.Context, id string, s entity.SyncState, bumpServer bool) error {
	conn, err := r.db.Conn()
	if err != nil {
		return fmt.Errorf("mark %s: %w", r.tbl.Name, err)
	}
	query := "UPDATE " + r.tbl.Name + " SET sync_state = ?"
	if bumpServer {
		query += ", server_version = CASE WHEN server_version = 0 THEN 1 ELSE server_version END"
	}
	query += " WHERE id = ?"
	res, err := conn.ExecContext(ctx, query, string(s), id)
	if err != nil {
		return fmt.Errorf("failed to mark %s %s %s: %w", r.tbl.Name, id, s, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark %s %s %s: %w", r.tbl.Name, id, s, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", r.tbl.Name, id, store.ErrNotFound)
	}
	return nil
}

// Adopt replaces the local row localID with the server's canonical version
// of it, stamped synced. When the server minted a new id, child rows are
// repointed at it before the stale local row is dropped, all in one
// transaction.
func (r *Repo[D]) Adopt(ctx context.Context, localID string, d D) error {
	m := d.Sync()
	m.SyncState = entity.SyncSynced
	if m.ServerVersion == 0 {
		m.ServerVersion = 1
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid %s from server: %w", r.tbl.Name, err)
	}

	if localID == "" || localID == m.ID {
		return r.exec(ctx, nil, r.upsertSQL(), d)
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.exec(ctx, tx, r.upsertSQL(), d); err != nil {
			return err
		}
		for _, child := range r.tbl.Children {
			query := "UPDATE " + child.Table + " SET " + child.Column + " = ? WHERE " + child.Column + " = ?"
			if _, err := tx.ExecContext(ctx, query, m.ID, localID); err != nil {
				return fmt.Errorf("failed to repoint %s.%s: %w", child.Table, child.Column, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+r.tbl.Name+" WHERE id = ?", localID); err != nil {
			return fmt.Errorf("failed to drop stale %s %s: %w", r.tbl.Name, localID, err)
		}
		return nil
	})
}

// Apply lands a pulled server row, stamped synced so it is never re-pushed.
// A local row for the same id that carries an unpushed, newer mutation is
// left alone; the next push phase settles it.
func (r *Repo[D]) Apply(ctx context.Context, d D) error {
	m := d.Sync()

	local, err := r.fetchAny(ctx, m.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// new from server
	case err != nil:
		return err
	default:
		lm := local.Sync()
		if lm.SyncState != entity.SyncSynced && lm.UpdatedAt.After(m.UpdatedAt) {
			return errSkipApply
		}
	}

	return r.Adopt(ctx, "", d)
}

// SkippedApply reports whether err is the benign "local row is newer"
// outcome of Apply.
func SkippedApply(err error) bool {
	return errors.Is(err, errSkipApply)
}

// CountBySyncState returns row counts per sync state (status reporting).
func (r *Repo[D]) CountBySyncState(ctx context.Context) (map[entity.SyncState]int, error) {
	conn, err := r.db.Conn()
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", r.tbl.Name, err)
	}
	rows, err := conn.QueryContext(ctx, "SELECT sync_state, COUNT(*) FROM "+r.tbl.Name+" GROUP BY sync_state")
	if err != nil {
		return nil, fmt.Errorf("failed to count %s by sync state: %w", r.tbl.Name, err)
	}
	defer rows.Close()

	out := make(map[entity.SyncState]int)
	for rows.Next() {
		var raw string
		var count int
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, fmt.Errorf("failed to scan %s counts: %w", r.tbl.Name, err)
		}
		s, err := entity.ParseSyncState(raw)
		if err != nil {
			return nil, err
		}
		out[s] = count
	}
	return out, rows.Err()
}
