package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/store"
)

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ChildLink names a child table column that references this table's id.
// Adopt repoints children before dropping the old parent row when the
// server assigns a new id. Cascade marks links the schema deletes along
// with the parent, so hard deletes journal those child rows too.
type ChildLink struct {
	Table   string
	Column  string
	Cascade bool
}

// Table describes how one entity type maps onto its store table.
// Columns, Bind, and Scan must agree on ordering, with "id" first.
type Table[D entity.Syncable] struct {
	Name          string
	Type          entity.Type
	Columns       []string
	SearchColumns []string
	SoftDelete    bool
	Children      []ChildLink

	New  func() D
	Bind func(D) ([]any, error)
	Scan func(row RowScanner) (D, error)
}

// Cond is one predicate in a filtered scan. Op must be one of
// =, !=, <, <=, >, >=, LIKE.
type Cond struct {
	Col string
	Op  string
	Val any
}

// Query configures FetchAll.
type Query struct {
	Where   []Cond
	OrderBy string
	Desc    bool

	// PageSize/Page paginate results; PageSize <= 0 returns everything.
	PageSize int
	Page     int

	// IncludeDeleted includes tombstoned rows (export/audit paths only).
	IncludeDeleted bool
}

// Repo is the generic repository. All mutations stamp sync state and
// updated_at; acknowledgment paths (MarkSynced, Adopt, Apply) are the only
// writes that do not re-stamp pending-push.
type Repo[D entity.Syncable] struct {
	db  *store.DB
	tbl Table[D]
	now func() time.Time
}

// New creates a repository over db for the given table descriptor.
func New[D entity.Syncable](db *store.DB, tbl Table[D]) *Repo[D] {
	return &Repo[D]{db: db, tbl: tbl, now: time.Now}
}

// Kind returns the entity type this repository manages.
func (r *Repo[D]) Kind() entity.Type { return r.tbl.Type }

// NewEntity returns a zero value of the managed type.
func (r *Repo[D]) NewEntity() D { return r.tbl.New() }

// SetClock overrides the timestamp source (tests).
func (r *Repo[D]) SetClock(now func() time.Time) { r.now = now }

// Create stores a locally-created entity. A blank id is minted; state is
// stamped pending-push and both timestamps set to now. The stored form is
// returned.
func (r *Repo[D]) Create(ctx context.Context, d D) (D, error) {
	var zero D
	m := d.Sync()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := r.now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.SyncState = entity.SyncPending
	m.ServerVersion = 0

	if err := d.Validate(); err != nil {
		return zero, fmt.Errorf("invalid %s: %w", r.tbl.Name, err)
	}
	if err := r.exec(ctx, nil, r.insertSQL(), d); err != nil {
		return zero, err
	}
	return d, nil
}

// Import inserts an entity restored from a backup document. The row keeps
// its original id and timestamps, state is forced to local-only, and an
// existing row with the same id makes the import a no-op (reported via the
// bool). Source data wins once; imports never overwrite.
func (r *Repo[D]) Import(ctx context.Context, d D) (bool, error) {
	m := d.Sync()
	now := r.now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	m.SyncState = entity.SyncLocalOnly
	m.ServerVersion = 0

	if err := d.Validate(); err != nil {
		return false, fmt.Errorf("invalid %s: %w", r.tbl.Name, err)
	}

	exists, err := r.Exists(ctx, m.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := r.exec(ctx, nil, r.insertSQL(), d); err != nil {
		return false, err
	}
	return true, nil
}

// Update applies mutate to the stored row under fetch-modify-write,
// re-stamps pending-push, and bumps updated_at. Tombstoned rows are still
// reachable here so sync acknowledgments can land on them.
func (r *Repo[D]) Update(ctx context.Context, id string, mutate func(D) error) (D, error) {
	var zero D
	d, err := r.fetchAny(ctx, id)
	if err != nil {
		return zero, err
	}
	if err := mutate(d); err != nil {
		return zero, err
	}

	m := d.Sync()
	if m.ID != id {
		return zero, fmt.Errorf("mutator must not change id (was %s, got %s)", id, m.ID)
	}
	m.UpdatedAt = r.now().UTC()
	m.SyncState = entity.SyncPending

	if err := d.Validate(); err != nil {
		return zero, fmt.Errorf("invalid %s: %w", r.tbl.Name, err)
	}
	if err := r.exec(ctx, nil, r.upsertSQL(), d); err != nil {
		return zero, err
	}
	return d, nil
}

// Delete removes the row outright. Child rows cascade at the store level.
// The row and its cascading children are journaled in sync_deletions when
// the server has seen them, so the next pass deletes them remotely instead
// of pulling them straight back.
func (r *Repo[D]) Delete(ctx context.Context, id string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.journalDelete(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM "+r.tbl.Name+" WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", r.tbl.Name, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", r.tbl.Name, id, err)
		}
		if n == 0 {
			return fmt.Errorf("%s %s: %w", r.tbl.Name, id, store.ErrNotFound)
		}
		return nil
	})
}

// journalDelete records id plus its cascading children in the deletion
// journal, limited to rows the server knows (server_version > 0). Runs in
// the deleting transaction so journal and delete land together.
func (r *Repo[D]) journalDelete(ctx context.Context, tx *sql.Tx, id string) error {
	now := fmtTime(r.now())
	for _, child := range r.tbl.Children {
		if !child.Cascade {
			continue
		}
		q := "INSERT OR REPLACE INTO sync_deletions (entity_type, id, deleted_at) " +
			"SELECT ?, id, ? FROM " + child.Table + " WHERE " + child.Column + " = ? AND server_version > 0"
		if _, err := tx.ExecContext(ctx, q, child.Table, now, id); err != nil {
			return fmt.Errorf("failed to journal %s deletions: %w", child.Table, err)
		}
	}
	q := "INSERT OR REPLACE INTO sync_deletions (entity_type, id, deleted_at) " +
		"SELECT ?, id, ? FROM " + r.tbl.Name + " WHERE id = ? AND server_version > 0"
	if _, err := tx.ExecContext(ctx, q, string(r.tbl.Type), now, id); err != nil {
		return fmt.Errorf("failed to journal %s deletion: %w", r.tbl.Name, err)
	}
	return nil
}

// DeleteWhere removes every row matching the conditions in one statement
// and returns the number of rows removed. Server-known rows are journaled
// like Delete does.
func (r *Repo[D]) DeleteWhere(ctx context.Context, where ...Cond) (int64, error) {
	whereSQL, args, err := r.whereSQL(where, true)
	if err != nil {
		return 0, err
	}
	if whereSQL == "" {
		return 0, fmt.Errorf("refusing to delete all %s without conditions", r.tbl.Name)
	}

	var n int64
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		journal := "INSERT OR REPLACE INTO sync_deletions (entity_type, id, deleted_at) " +
			"SELECT ?, id, ? FROM " + r.tbl.Name + whereSQL + " AND server_version > 0"
		jargs := append([]any{string(r.tbl.Type), fmtTime(r.now())}, args...)
		if _, err := tx.ExecContext(ctx, journal, jargs...); err != nil {
			return fmt.Errorf("failed to journal %s deletions: %w", r.tbl.Name, err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM "+r.tbl.Name+whereSQL, args...)
		if err != nil {
			return fmt.Errorf("failed to delete from %s: %w", r.tbl.Name, err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// SoftDelete sets the tombstone flag and timestamp, preserving the row for
// export until the owning parent is hard-purged.
func (r *Repo[D]) SoftDelete(ctx context.Context, id string) error {
	if !r.tbl.SoftDelete {
		return fmt.Errorf("%s does not support soft delete", r.tbl.Name)
	}
	conn, err := r.db.Conn()
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", r.tbl.Name, err)
	}
	now := fmtTime(r.now())
	res, err := conn.ExecContext(ctx,
		"UPDATE "+r.tbl.Name+" SET deleted = 1, deleted_at = ?, updated_at = ?, sync_state = ? WHERE id = ? AND deleted = 0",
		now, now, string(entity.SyncPending), id)
	if err != nil {
		return fmt.Errorf("failed to soft delete %s %s: %w", r.tbl.Name, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to soft delete %s %s: %w", r.tbl.Name, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", r.tbl.Name, id, store.ErrNotFound)
	}
	return nil
}

// Fetch returns the row by id, excluding tombstoned rows.
func (r *Repo[D]) Fetch(ctx context.Context, id string) (D, error) {
	var zero D
	query := r.selectSQL() + " WHERE id = ?"
	if r.tbl.SoftDelete {
		query += " AND deleted = 0"
	}
	return r.fetchOne(ctx, zero, query, id)
}

// fetchAny returns the row by id including tombstones.
func (r *Repo[D]) fetchAny(ctx context.Context, id string) (D, error) {
	var zero D
	return r.fetchOne(ctx, zero, r.selectSQL()+" WHERE id = ?", id)
}

func (r *Repo[D]) fetchOne(ctx context.Context, zero D, query string, args ...any) (D, error) {
	conn, err := r.db.Conn()
	if err != nil {
		return zero, fmt.Errorf("fetch %s: %w", r.tbl.Name, err)
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return zero, fmt.Errorf("failed to fetch %s: %w", r.tbl.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, fmt.Errorf("failed to fetch %s: %w", r.tbl.Name, err)
		}
		return zero, fmt.Errorf("%s: %w", r.tbl.Name, store.ErrNotFound)
	}
	d, err := r.tbl.Scan(rows)
	if err != nil {
		return zero, fmt.Errorf("failed to scan %s: %w", r.tbl.Name, err)
	}
	return d, nil
}

// FetchAll runs a filtered, sorted, paginated scan.
func (r *Repo[D]) FetchAll(ctx context.Context, q Query) ([]D, error) {
	where, args, err := r.whereSQL(q.Where, q.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	query := r.selectSQL() + where

	order := q.OrderBy
	if order == "" {
		order = "created_at"
	}
	// rowid tie-break keeps insertion order stable for equal timestamps
	query += " ORDER BY " + order
	if q.Desc {
		query += " DESC, rowid DESC"
	} else {
		query += ", rowid"
	}

	if q.PageSize > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.PageSize, q.PageSize*q.Page)
	}

	return r.list(ctx, query, args...)
}

// Count returns the number of rows matching the conditions, excluding
// tombstones.
func (r *Repo[D]) Count(ctx context.Context, where ...Cond) (int, error) {
	whereSQL, args, err := r.whereSQL(where, false)
	if err != nil {
		return 0, err
	}
	conn, err := r.db.Conn()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.tbl.Name, err)
	}
	var count int
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.tbl.Name+whereSQL, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.tbl.Name, err)
	}
	return count, nil
}

// Search performs a case-insensitive substring match over the table's
// designated text columns, optionally narrowed by extra conditions.
func (r *Repo[D]) Search(ctx context.Context, text string, extra ...Cond) ([]D, error) {
	if len(r.tbl.SearchColumns) == 0 {
		return nil, fmt.Errorf("%s is not searchable", r.tbl.Name)
	}
	where, args, err := r.whereSQL(extra, false)
	if err != nil {
		return nil, err
	}

	var likes []string
	pattern := "%" + strings.ToLower(text) + "%"
	for _, col := range r.tbl.SearchColumns {
		likes = append(likes, "lower("+col+") LIKE ?")
		args = append(args, pattern)
	}
	clause := "(" + strings.Join(likes, " OR ") + ")"
	if where == "" {
		where = " WHERE " + clause
	} else {
		where += " AND " + clause
	}

	return r.list(ctx, r.selectSQL()+where+" ORDER BY created_at, rowid", args...)
}

// Exists reports whether a row with the id is present, tombstoned or not.
func (r *Repo[D]) Exists(ctx context.Context, id string) (bool, error) {
	conn, err := r.db.Conn()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", r.tbl.Name, err)
	}
	var count int
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.tbl.Name+" WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check %s %s: %w", r.tbl.Name, id, err)
	}
	return count > 0, nil
}

func (r *Repo[D]) list(ctx context.Context, query string, args ...any) ([]D, error) {
	conn, err := r.db.Conn()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", r.tbl.Name, err)
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", r.tbl.Name, err)
	}
	defer rows.Close()

	var out []D
	for rows.Next() {
		d, err := r.tbl.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", r.tbl.Name, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", r.tbl.Name, err)
	}
	return out, nil
}

var allowedOps = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true, "LIKE": true,
}

func (r *Repo[D]) whereSQL(conds []Cond, includeDeleted bool) (string, []any, error) {
	var clauses []string
	var args []any
	for _, c := range conds {
		if !allowedOps[c.Op] {
			return "", nil, fmt.Errorf("unsupported condition operator %q", c.Op)
		}
		clauses = append(clauses, c.Col+" "+c.Op+" ?")
		args = append(args, c.Val)
	}
	if r.tbl.SoftDelete && !includeDeleted {
		clauses = append(clauses, "deleted = 0")
	}
	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (r *Repo[D]) selectSQL() string {
	return "SELECT " + strings.Join(r.tbl.Columns, ", ") + " FROM " + r.tbl.Name
}

func (r *Repo[D]) insertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(r.tbl.Columns)), ", ")
	return "INSERT INTO " + r.tbl.Name + " (" + strings.Join(r.tbl.Columns, ", ") + ") VALUES (" + placeholders + ")"
}

func (r *Repo[D]) upsertSQL() string {
	var sets []string
	for _, col := range r.tbl.Columns[1:] {
		sets = append(sets, col+" = excluded."+col)
	}
	return r.insertSQL() + " ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")
}

// exec binds d and runs query on tx when given, otherwise on the pool.
func (r *Repo[D]) exec(ctx context.Context, tx *sql.Tx, query string, d D) error {
	vals, err := r.tbl.Bind(d)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", r.tbl.Name, err)
	}
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, vals...)
	} else {
		conn, cerr := r.db.Conn()
		if cerr != nil {
			return fmt.Errorf("write %s: %w", r.tbl.Name, cerr)
		}
		_, err = conn.ExecContext(ctx, query, vals...)
	}
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%s %s: %w", r.tbl.Name, d.EntityID(), store.ErrConstraint)
		}
		return fmt.Errorf("failed to write %s %s: %w", r.tbl.Name, d.EntityID(), err)
	}
	return nil
}

func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}

// Upsert writes d exactly as given, preserving its sync metadata. This is
// the idempotent store-level write used by seeding and tests.
func (r *Repo[D]) Upsert(ctx context.Context, d D) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid %s: %w", r.tbl.Name, err)
	}
	return r.exec(ctx, nil, r.upsertSQL(), d)
}

var errSkipApply = errors.New("local row is newer")
