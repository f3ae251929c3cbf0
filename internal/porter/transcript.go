package porter

import (
	"fmt"
	"strings"

	"github.com/emberchat/ember-core/internal/entity"
)

const transcriptTimeFormat = "Jan 2, 2006 3:04 PM"

// Transcript renders a conversation document as a plain chronological log.
// The rendering is one-way; transcripts are for reading, not re-import.
func Transcript(doc *ConversationDocument) string {
	if doc == nil || doc.Conversation == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", doc.Conversation.DisplayTitle())
	fmt.Fprintf(&b, "Exported %s\n", doc.ExportedAt.Format(transcriptTimeFormat))
	if doc.Character != nil {
		fmt.Fprintf(&b, "Character: %s\n", doc.Character.Name)
	}
	b.WriteString(strings.Repeat("-", 40) + "\n")

	name := speakerName(doc)
	for _, m := range doc.Messages {
		if m == nil || m.Deleted {
			continue
		}
		who := "You"
		if m.Sender == entity.SenderAI {
			who = name
		}
		fmt.Fprintf(&b, "\n[%s] %s:\n%s\n", m.CreatedAt.Format(transcriptTimeFormat), who, m.Content)
		if m.Edited {
			b.WriteString("(edited)\n")
		}
	}
	return b.String()
}

// Narrative renders a conversation as flowing prose, quoting each turn in
// order without timestamps.
func Narrative(doc *ConversationDocument) string {
	if doc == nil || doc.Conversation == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", doc.Conversation.DisplayTitle())

	name := speakerName(doc)
	for _, m := range doc.Messages {
		if m == nil || m.Deleted || strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Sender {
		case entity.SenderAI:
			fmt.Fprintf(&b, "%s replied: %q\n\n", name, m.Content)
		default:
			fmt.Fprintf(&b, "You said: %q\n\n", m.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func speakerName(doc *ConversationDocument) string {
	if doc.Character != nil && doc.Character.Name != "" {
		return doc.Character.Name
	}
	return "Assistant"
}
