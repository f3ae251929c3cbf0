package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/store"
)

// Users manages the device-session user row. At most one user is active at
// a time; no row means a guest session. User rows are written by the auth
// collaborator and are not pushed by the reconciler.
type Users struct {
	*Repo[*entity.User]
	db *store.DB
}

// NewUsers creates the user repository.
func NewUsers(db *store.DB) *Users {
	return &Users{Repo: New(db, usersTable()), db: db}
}

func usersTable() Table[*entity.User] {
	return Table[*entity.User]{
		Name: "users",
		Type: entity.TypeUser,
		Columns: []string{
			"id", "email", "display_name", "tier",
			"subscription_expires_at", "verified",
			"messages_sent", "messages_remaining",
			"sync_state", "server_version", "created_at", "updated_at",
		},
		New:  func() *entity.User { return &entity.User{} },
		Bind: bindUser,
		Scan: scanUser,
	}
}

func bindUser(u *entity.User) ([]any, error) {
	return []any{
		u.ID,
		u.Email,
		nullStr(u.DisplayName),
		string(u.Tier),
		timeToNullString(u.SubscriptionExpiresAt),
		boolToInt(u.Verified),
		u.MessagesSent,
		u.MessagesRemaining,
		string(u.SyncState),
		u.ServerVersion,
		fmtTime(u.CreatedAt),
		fmtTime(u.UpdatedAt),
	}, nil
}

func scanUser(row RowScanner) (*entity.User, error) {
	var (
		u                               entity.User
		displayName, expiresAt          sql.NullString
		tier                            string
		verified                        int
		syncState, createdAt, updatedAt string
	)
	if err := row.Scan(
		&u.ID, &u.Email, &displayName, &tier,
		&expiresAt, &verified,
		&u.MessagesSent, &u.MessagesRemaining,
		&syncState, &u.ServerVersion, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	u.DisplayName = displayName.String
	u.Tier = entity.Tier(tier)
	u.Verified = verified != 0

	var err error
	if u.SubscriptionExpiresAt, err = nullTime(expiresAt); err != nil {
		return nil, err
	}
	if u.SyncState, err = entity.ParseSyncState(syncState); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Current returns the active user, or store.ErrNotFound for guest sessions.
func (r *Users) Current(ctx context.Context) (*entity.User, error) {
	users, err := r.FetchAll(ctx, Query{PageSize: 1})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("active user: %w", store.ErrNotFound)
	}
	return users[0], nil
}

// SetCurrent replaces the active user row. The row is stamped synced: the
// auth collaborator owns the server-side account, this core only mirrors it.
func (r *Users) SetCurrent(ctx context.Context, u *entity.User) error {
	now := r.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.SyncState = entity.SyncSynced
	if u.ServerVersion == 0 {
		u.ServerVersion = 1
	}
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}

	vals, err := bindUser(u)
	if err != nil {
		return err
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id != ?", u.ID); err != nil {
			return fmt.Errorf("failed to clear previous session user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.upsertSQL(), vals...); err != nil {
			return fmt.Errorf("failed to store session user: %w", err)
		}
		return nil
	})
}

// CountMessage bumps the sent counter and decrements the remaining quota
// (never below zero).
func (r *Users) CountMessage(ctx context.Context, id string) (*entity.User, error) {
	return r.Update(ctx, id, func(u *entity.User) error {
		u.MessagesSent++
		if u.MessagesRemaining > 0 {
			u.MessagesRemaining--
		}
		return nil
	})
}

// ClearAllData empties every table for the given user in one transaction:
// conversations (cascading messages), owned characters (cascading memories
// and learnings), and the user row itself. System characters survive.
// Server-known rows are journaled first so the wipe propagates on the next
// sync pass instead of being pulled straight back.
func (r *Users) ClearAllData(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(r.now())
		journal := "INSERT OR REPLACE INTO sync_deletions (entity_type, id, deleted_at) "
		journals := []string{
			journal + "SELECT 'messages', m.id, ? FROM messages m JOIN conversations c ON m.conversation_id = c.id WHERE c.owner_id = ? AND m.server_version > 0",
			journal + "SELECT 'conversations', id, ? FROM conversations WHERE owner_id = ? AND server_version > 0",
			journal + "SELECT 'character_memories', cm.id, ? FROM character_memories cm JOIN characters ch ON cm.character_id = ch.id WHERE ch.owner_id = ? AND cm.server_version > 0",
			journal + "SELECT 'character_learnings', cl.id, ? FROM character_learnings cl JOIN characters ch ON cl.character_id = ch.id WHERE ch.owner_id = ? AND cl.server_version > 0",
			journal + "SELECT 'characters', id, ? FROM characters WHERE owner_id = ? AND server_version > 0",
		}
		for _, stmt := range journals {
			if _, err := tx.ExecContext(ctx, stmt, now, userID); err != nil {
				return fmt.Errorf("failed to journal user data deletions: %w", err)
			}
		}

		statements := []string{
			"DELETE FROM conversations WHERE owner_id = ?",
			"DELETE FROM characters WHERE owner_id = ?",
			"DELETE FROM users WHERE id = ?",
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
				return fmt.Errorf("failed to clear user data: %w", err)
			}
		}
		return nil
	})
}
