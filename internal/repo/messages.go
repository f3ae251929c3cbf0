package repo

import (
	"context"
	"database/sql"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/store"
)

// Messages is the repository for message rows. Deletes are soft: rows are
// tombstoned and preserved for export until HardPurge removes them with the
// owning conversation.
type Messages struct {
	*Repo[*entity.Message]
}

// NewMessages creates the message repository.
func NewMessages(db *store.DB) *Messages {
	return &Messages{New(db, messagesTable())}
}

func messagesTable() Table[*entity.Message] {
	return Table[*entity.Message]{
		Name: "messages",
		Type: entity.TypeMessage,
		Columns: []string{
			"id", "conversation_id", "sender", "content",
			"model", "latency_ms", "token_count",
			"deleted", "deleted_at", "edited", "edited_at",
			"sync_state", "server_version", "created_at", "updated_at",
		},
		SearchColumns: []string{"content"},
		SoftDelete:    true,
		New:           func() *entity.Message { return &entity.Message{} },
		Bind:          bindMessage,
		Scan:          scanMessage,
	}
}

func bindMessage(m *entity.Message) ([]any, error) {
	return []any{
		m.ID,
		m.ConversationID,
		string(m.Sender),
		m.Content,
		nullStr(m.Metadata.Model),
		m.Metadata.LatencyMS,
		m.Metadata.TokenCount,
		boolToInt(m.Deleted),
		timeToNullString(m.DeletedAt),
		boolToInt(m.Edited),
		timeToNullString(m.EditedAt),
		string(m.SyncState),
		m.ServerVersion,
		fmtTime(m.CreatedAt),
		fmtTime(m.UpdatedAt),
	}, nil
}

func scanMessage(row RowScanner) (*entity.Message, error) {
	var (
		m                               entity.Message
		sender                          string
		model                           sql.NullString
		deleted, edited                 int
		deletedAt, editedAt             sql.NullString
		syncState, createdAt, updatedAt string
	)
	if err := row.Scan(
		&m.ID, &m.ConversationID, &sender, &m.Content,
		&model, &m.Metadata.LatencyMS, &m.Metadata.TokenCount,
		&deleted, &deletedAt, &edited, &editedAt,
		&syncState, &m.ServerVersion, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	m.Sender = entity.Sender(sender)
	m.Metadata.Model = model.String
	m.Deleted = deleted != 0
	m.Edited = edited != 0

	var err error
	if m.DeletedAt, err = nullTime(deletedAt); err != nil {
		return nil, err
	}
	if m.EditedAt, err = nullTime(editedAt); err != nil {
		return nil, err
	}
	if m.SyncState, err = entity.ParseSyncState(syncState); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByConversation returns the conversation's messages in creation order.
// Tombstoned rows are excluded unless includeDeleted is set (export path).
func (r *Messages) ListByConversation(ctx context.Context, conversationID string, includeDeleted bool) ([]*entity.Message, error) {
	return r.FetchAll(ctx, Query{
		Where:          []Cond{{Col: "conversation_id", Op: "=", Val: conversationID}},
		OrderBy:        "created_at",
		IncludeDeleted: includeDeleted,
	})
}

// Finalize replaces a streaming placeholder's content once the full
// response has arrived. This completes the original message rather than
// editing it, so the edited flag stays clear.
func (r *Messages) Finalize(ctx context.Context, id, content string, meta entity.MessageMetadata) (*entity.Message, error) {
	return r.Update(ctx, id, func(m *entity.Message) error {
		m.Content = content
		if meta.Model != "" {
			m.Metadata.Model = meta.Model
		}
		if meta.LatencyMS > 0 {
			m.Metadata.LatencyMS = meta.LatencyMS
		}
		if meta.TokenCount > 0 {
			m.Metadata.TokenCount = meta.TokenCount
		}
		return nil
	})
}

// Edit rewrites a message's content and flags it as edited.
func (r *Messages) Edit(ctx context.Context, id, content string) (*entity.Message, error) {
	now := r.now().UTC()
	return r.Update(ctx, id, func(m *entity.Message) error {
		m.Content = content
		m.Edited = true
		m.EditedAt = &now
		return nil
	})
}

// HardPurge physically removes every message of a conversation, tombstoned
// or not. Called when the owning conversation is purged.
func (r *Messages) HardPurge(ctx context.Context, conversationID string) (int64, error) {
	return r.DeleteWhere(ctx, Cond{Col: "conversation_id", Op: "=", Val: conversationID})
}
