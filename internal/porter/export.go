package porter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/store"
)

// ExportBackup snapshots everything the user owns: their characters, their
// conversations, and every message per conversation including tombstoned
// ones. System characters are excluded; they ship with the app.
func (e *Engine) ExportBackup(ctx context.Context, userID string) (*BackupDocument, error) {
	doc := &BackupDocument{
		FormatVersion: FormatVersion,
		ExportedAt:    e.now().UTC(),
		Messages:      make(map[string][]*entity.Message),
		Metadata: Metadata{
			DeviceName: e.cfg.DeviceName,
			AppVersion: e.cfg.AppVersion,
		},
	}

	user, err := e.users.Fetch(ctx, userID)
	switch {
	case err == nil:
		doc.User = user
	case errors.Is(err, store.ErrNotFound):
		// guest data exports with a nil user block
	default:
		return nil, err
	}

	if doc.Characters, err = e.characters.ListForOwner(ctx, userID); err != nil {
		return nil, err
	}
	if doc.Conversations, err = e.conversations.ListForOwner(ctx, userID, 0, 0); err != nil {
		return nil, err
	}

	for i, conv := range doc.Conversations {
		msgs, err := e.messages.ListByConversation(ctx, conv.ID, true)
		if err != nil {
			return nil, fmt.Errorf("failed to export messages of %s: %w", conv.ID, err)
		}
		doc.Messages[conv.ID] = msgs
		doc.Metadata.Counts.Messages += len(msgs)

		e.progress("conversations", i+1, len(doc.Conversations))
		if e.cfg.Pace > 0 && i+1 < len(doc.Conversations) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.Pace):
			}
		}
	}

	doc.Metadata.Counts.Conversations = len(doc.Conversations)
	doc.Metadata.Counts.Characters = len(doc.Characters)

	// byte size is measured before the field itself is filled in
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to size backup: %w", err)
	}
	doc.Metadata.ByteSize = int64(len(data))

	e.logger.Printf("Exported backup for %s: %d conversations, %d messages, %d characters",
		userID, doc.Metadata.Counts.Conversations, doc.Metadata.Counts.Messages, doc.Metadata.Counts.Characters)
	return doc, nil
}

// ExportConversation snapshots one conversation with its visible messages
// and, when resolvable, its character.
func (e *Engine) ExportConversation(ctx context.Context, conversationID string) (*ConversationDocument, error) {
	conv, err := e.conversations.Fetch(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	doc := &ConversationDocument{
		FormatVersion: FormatVersion,
		ExportedAt:    e.now().UTC(),
		Conversation:  conv,
	}

	if conv.CharacterID != "" {
		char, err := e.characters.Fetch(ctx, conv.CharacterID)
		switch {
		case err == nil:
			doc.Character = char
		case errors.Is(err, store.ErrNotFound):
			// character was deleted; the transcript falls back to a label
		default:
			return nil, err
		}
	}

	if doc.Messages, err = e.messages.ListByConversation(ctx, conversationID, false); err != nil {
		return nil, err
	}
	return doc, nil
}
