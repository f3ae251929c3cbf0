package porter

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Result reports what one import actually changed. Row-level failures are
// collected, never fatal; a document that fails to parse at all surfaces a
// single ErrInvalidDocument instead.
type Result struct {
	Conversations int      `json:"conversations"`
	Messages      int      `json:"messages"`
	Characters    int      `json:"characters"`
	Skipped       int      `json:"skipped"`
	Errors        []string `json:"errors,omitempty"`
}

// Total returns the number of rows imported.
func (r *Result) Total() int {
	return r.Conversations + r.Messages + r.Characters
}

// Import parses data as a full-backup or single-conversation document, in
// JSON or YAML, and merges it into the store. Rows whose id already exists
// are skipped (imports never overwrite); everything inserted lands as
// local-only, awaiting the next reconciliation pass. Importing the same
// document twice is a no-op the second time.
func (e *Engine) Import(ctx context.Context, data []byte) (*Result, error) {
	jsonData, single, err := sniff(data)
	if err != nil {
		return nil, err
	}

	if single {
		var doc ConversationDocument
		if err := json.Unmarshal(jsonData, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		return e.ImportConversation(ctx, &doc)
	}

	var doc BackupDocument
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return e.ImportBackup(ctx, &doc)
}

// ImportBackup merges a full backup. The document's user block is never
// imported: the session user belongs to the auth collaborator.
func (e *Engine) ImportBackup(ctx context.Context, doc *BackupDocument) (*Result, error) {
	if doc.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %q: %w", doc.FormatVersion, ErrInvalidDocument)
	}
	if err := checkAppVersion(doc.Metadata.AppVersion, e.cfg.AppVersion); err != nil {
		return nil, err
	}

	res := &Result{}

	for _, c := range doc.Characters {
		if c == nil {
			res.Errors = append(res.Errors, "nil character entry")
			continue
		}
		imported, err := e.characters.Import(ctx, c)
		e.tally(res, &res.Characters, imported, err, "character", c.ID)
	}

	for _, conv := range doc.Conversations {
		if conv == nil {
			res.Errors = append(res.Errors, "nil conversation entry")
			continue
		}
		imported, err := e.conversations.Import(ctx, conv)
		e.tally(res, &res.Conversations, imported, err, "conversation", conv.ID)
	}

	for convID, msgs := range doc.Messages {
		for _, m := range msgs {
			if m == nil {
				res.Errors = append(res.Errors, fmt.Sprintf("nil message entry in %s", convID))
				continue
			}
			if m.ConversationID == "" {
				m.ConversationID = convID
			}
			imported, err := e.messages.Import(ctx, m)
			e.tally(res, &res.Messages, imported, err, "message", m.ID)
		}
	}

	e.logger.Printf("Imported backup: %d rows, %d skipped, %d errors",
		res.Total(), res.Skipped, len(res.Errors))
	return res, nil
}

// ImportConversation merges a single-conversation document.
func (e *Engine) ImportConversation(ctx context.Context, doc *ConversationDocument) (*Result, error) {
	if doc.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %q: %w", doc.FormatVersion, ErrInvalidDocument)
	}
	if doc.Conversation == nil {
		return nil, fmt.Errorf("document has no conversation: %w", ErrInvalidDocument)
	}

	res := &Result{}

	if doc.Character != nil {
		imported, err := e.characters.Import(ctx, doc.Character)
		e.tally(res, &res.Characters, imported, err, "character", doc.Character.ID)
	}

	imported, err := e.conversations.Import(ctx, doc.Conversation)
	e.tally(res, &res.Conversations, imported, err, "conversation", doc.Conversation.ID)

	for _, m := range doc.Messages {
		if m == nil {
			res.Errors = append(res.Errors, "nil message entry")
			continue
		}
		if m.ConversationID == "" {
			m.ConversationID = doc.Conversation.ID
		}
		imported, err := e.messages.Import(ctx, m)
		e.tally(res, &res.Messages, imported, err, "message", m.ID)
	}

	return res, nil
}

func (e *Engine) tally(res *Result, counter *int, imported bool, err error, kind, id string) {
	switch {
	case err != nil:
		res.Errors = append(res.Errors, fmt.Sprintf("%s %s: %v", kind, id, err))
	case imported:
		*counter++
	default:
		res.Skipped++
	}
}

// sniff determines the document's codec and shape and returns it as JSON
// bytes. YAML documents are converted through their generic form so field
// names keep their JSON spellings.
func sniff(data []byte) (jsonData []byte, single bool, err error) {
	var generic map[string]any
	if jsonErr := json.Unmarshal(data, &generic); jsonErr == nil {
		jsonData = data
	} else {
		if yamlErr := yaml.Unmarshal(data, &generic); yamlErr != nil {
			return nil, false, fmt.Errorf("%w: not JSON (%v) nor YAML (%v)", ErrInvalidDocument, jsonErr, yamlErr)
		}
		if jsonData, err = json.Marshal(generic); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}

	if _, ok := generic["format_version"].(string); !ok {
		return nil, false, fmt.Errorf("missing format_version: %w", ErrInvalidDocument)
	}
	_, single = generic["conversation"]
	return jsonData, single, nil
}
