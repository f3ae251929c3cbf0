package repo

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/store"
)

// Conversations is the repository for conversation rows.
type Conversations struct {
	*Repo[*entity.Conversation]
}

// NewConversations creates the conversation repository.
func NewConversations(db *store.DB) *Conversations {
	return &Conversations{New(db, conversationsTable())}
}

func conversationsTable() Table[*entity.Conversation] {
	return Table[*entity.Conversation]{
		Name: "conversations",
		Type: entity.TypeConversation,
		Columns: []string{
			"id", "owner_id", "character_id", "model_type", "title",
			"message_count", "archived", "tags", "last_message_at",
			"sync_state", "server_version", "created_at", "updated_at",
		},
		SearchColumns: []string{"title"},
		Children:      []ChildLink{{Table: "messages", Column: "conversation_id", Cascade: true}},
		New:           func() *entity.Conversation { return &entity.Conversation{} },
		Bind:          bindConversation,
		Scan:          scanConversation,
	}
}

func bindConversation(c *entity.Conversation) ([]any, error) {
	tags, err := jsonText(c.Tags)
	if err != nil {
		return nil, err
	}
	return []any{
		c.ID,
		c.OwnerID,
		nullStr(c.CharacterID),
		nullStr(c.ModelType),
		nullStr(c.Title),
		c.MessageCount,
		boolToInt(c.Archived),
		tags,
		timeToNullString(c.LastMessageAt),
		string(c.SyncState),
		c.ServerVersion,
		fmtTime(c.CreatedAt),
		fmtTime(c.UpdatedAt),
	}, nil
}

func scanConversation(row RowScanner) (*entity.Conversation, error) {
	var (
		c                                   entity.Conversation
		characterID, modelType, title, tags sql.NullString
		lastMessageAt                       sql.NullString
		archived                            int
		syncState, createdAt, updatedAt     string
	)
	if err := row.Scan(
		&c.ID, &c.OwnerID, &characterID, &modelType, &title,
		&c.MessageCount, &archived, &tags, &lastMessageAt,
		&syncState, &c.ServerVersion, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	c.CharacterID = characterID.String
	c.ModelType = modelType.String
	c.Title = title.String
	c.Archived = archived != 0

	if err := fromJSONText(tags, &c.Tags); err != nil {
		return nil, err
	}

	var err error
	if c.LastMessageAt, err = nullTime(lastMessageAt); err != nil {
		return nil, err
	}
	if c.SyncState, err = entity.ParseSyncState(syncState); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListForOwner returns a page of the owner's conversations, most recently
// updated first.
func (r *Conversations) ListForOwner(ctx context.Context, ownerID string, pageSize, page int) ([]*entity.Conversation, error) {
	return r.FetchAll(ctx, Query{
		Where:    []Cond{{Col: "owner_id", Op: "=", Val: ownerID}},
		OrderBy:  "updated_at",
		Desc:     true,
		PageSize: pageSize,
		Page:     page,
	})
}

// Archive sets the archived flag.
func (r *Conversations) Archive(ctx context.Context, id string, archived bool) (*entity.Conversation, error) {
	return r.Update(ctx, id, func(c *entity.Conversation) error {
		c.Archived = archived
		return nil
	})
}

// SetTitle renames the conversation.
func (r *Conversations) SetTitle(ctx context.Context, id, title string) (*entity.Conversation, error) {
	return r.Update(ctx, id, func(c *entity.Conversation) error {
		c.Title = title
		return nil
	})
}

// AddTag adds tag to the conversation's tag set. Adding a tag twice is a
// no-op that still bumps updated_at.
func (r *Conversations) AddTag(ctx context.Context, id, tag string) (*entity.Conversation, error) {
	if tag == "" {
		return nil, fmt.Errorf("tag must not be empty")
	}
	return r.Update(ctx, id, func(c *entity.Conversation) error {
		if !c.HasTag(tag) {
			c.Tags = append(c.Tags, tag)
		}
		return nil
	})
}

// RemoveTag removes tag from the conversation's tag set.
func (r *Conversations) RemoveTag(ctx context.Context, id, tag string) (*entity.Conversation, error) {
	return r.Update(ctx, id, func(c *entity.Conversation) error {
		c.Tags = slices.DeleteFunc(c.Tags, func(t string) bool { return t == tag })
		return nil
	})
}

// RecordMessage bumps the message counter and the last-message timestamp
// after a message lands in the conversation.
func (r *Conversations) RecordMessage(ctx context.Context, id string, at time.Time) (*entity.Conversation, error) {
	return r.Update(ctx, id, func(c *entity.Conversation) error {
		c.MessageCount++
		at := at.UTC()
		c.LastMessageAt = &at
		return nil
	})
}
