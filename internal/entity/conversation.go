package entity

import (
	"fmt"
	"slices"
	"time"
)

// Conversation owns an ordered sequence of messages. Deleting a conversation
// cascades to its messages.
type Conversation struct {
	Meta

	OwnerID     string `json:"owner_id"`
	CharacterID string `json:"character_id,omitempty"`
	ModelType   string `json:"model_type,omitempty"`

	// Title is optional; DisplayTitle falls back to a generated label.
	Title string `json:"title,omitempty"`

	MessageCount int      `json:"message_count"`
	Archived     bool     `json:"archived"`
	Tags         []string `json:"tags,omitempty"`

	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// DisplayTitle returns the title, or a label generated from the creation
// date when no title was set.
func (c *Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "Conversation from " + c.CreatedAt.Format("Jan 2, 2006")
}

// HasTag reports whether tag is present.
func (c *Conversation) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// Validate checks required fields.
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if c.OwnerID == "" {
		return fmt.Errorf("conversation owner id is required")
	}
	if len(c.Title) > 300 {
		return fmt.Errorf("conversation title must be 300 characters or less (got %d)", len(c.Title))
	}
	if c.MessageCount < 0 {
		return fmt.Errorf("message count must not be negative")
	}
	return nil
}
