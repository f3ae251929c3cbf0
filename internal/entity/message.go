package entity

import (
	"fmt"
	"time"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderHuman Sender = "human"
	SenderAI    Sender = "ai"
)

// Valid reports whether s is a known sender kind.
func (s Sender) Valid() bool {
	return s == SenderHuman || s == SenderAI
}

// MessageMetadata carries inference details for AI messages.
type MessageMetadata struct {
	Model      string `json:"model,omitempty"`
	LatencyMS  int64  `json:"latency_ms,omitempty"`
	TokenCount int    `json:"token_count,omitempty"`
}

// Message is one turn in a conversation. Messages are append-mostly: edits
// and deletes set flags rather than rewriting history, and deleted rows stay
// in the store until the owning conversation is hard-purged.
type Message struct {
	Meta

	ConversationID string          `json:"conversation_id"`
	Sender         Sender          `json:"sender"`
	Content        string          `json:"content"`
	Metadata       MessageMetadata `json:"metadata,omitzero"`

	Deleted   bool       `json:"deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	Edited   bool       `json:"edited,omitempty"`
	EditedAt *time.Time `json:"edited_at,omitempty"`
}

// Validate checks required fields. Empty content is allowed: streaming
// responses insert a placeholder row that is finalized later.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if m.ConversationID == "" {
		return fmt.Errorf("message conversation id is required")
	}
	if !m.Sender.Valid() {
		return fmt.Errorf("unknown sender %q", m.Sender)
	}
	return nil
}
