// Package porter serializes a user's data to portable backup documents and
// merges documents back into the entity store without creating duplicates.
//
// The structured JSON document is the canonical format and round-trips
// exactly; a YAML rendering of the same structure is accepted on import.
// Plain and narrative transcripts are one-way renderings for humans.
//
// All reads and writes go through the repositories, so the documents share
// the repositories' domain⇄persisted conversion and import dedup rules.
package porter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/emberchat/ember-core/internal/entity"
)

// FormatVersion identifies the document schema. Bump on breaking change.
const FormatVersion = "1"

// ErrInvalidDocument is returned when a document cannot be parsed at all.
// Row-level problems inside a parseable document are collected in the
// Result instead.
var ErrInvalidDocument = errors.New("invalid document")

// Counts records how many rows a backup carries.
type Counts struct {
	Conversations int `json:"conversations" yaml:"conversations"`
	Messages      int `json:"messages" yaml:"messages"`
	Characters    int `json:"characters" yaml:"characters"`
}

// Metadata is the descriptive block attached to full backups.
type Metadata struct {
	DeviceName string `json:"device_name,omitempty" yaml:"device_name,omitempty"`
	AppVersion string `json:"app_version,omitempty" yaml:"app_version,omitempty"`
	Counts     Counts `json:"counts" yaml:"counts"`

	// ByteSize is the JSON document's size with this field still zero.
	ByteSize int64 `json:"byte_size,omitempty" yaml:"byte_size,omitempty"`
}

// BackupDocument is a full snapshot of one user's data. Messages are keyed
// by conversation id and include tombstoned rows: soft-deleted messages
// stay exportable until their conversation is hard-purged.
type BackupDocument struct {
	FormatVersion string                       `json:"format_version"`
	ExportedAt    time.Time                    `json:"exported_at"`
	User          *entity.User                 `json:"user,omitempty"`
	Characters    []*entity.Character          `json:"characters"`
	Conversations []*entity.Conversation       `json:"conversations"`
	Messages      map[string][]*entity.Message `json:"messages"`
	Metadata      Metadata                     `json:"metadata"`
}

// ConversationDocument is a single-conversation export. Tombstoned messages
// are excluded; a transcript of a conversation shows what the user saw.
type ConversationDocument struct {
	FormatVersion string               `json:"format_version"`
	ExportedAt    time.Time            `json:"exported_at"`
	Conversation  *entity.Conversation `json:"conversation"`
	Character     *entity.Character    `json:"character,omitempty"`
	Messages      []*entity.Message    `json:"messages"`
}

// RenderJSON produces the canonical round-trippable rendering.
func RenderJSON(doc any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render document: %w", err)
	}
	return data, nil
}

// RenderYAML produces a YAML rendering with the same field names as the
// JSON form (the document goes through its JSON shape first so yaml key
// names match json tags).
func RenderYAML(doc any) ([]byte, error) {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to render document: %w", err)
	}
	var generic any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, fmt.Errorf("failed to render document: %w", err)
	}
	data, err := yaml.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to render document: %w", err)
	}
	return data, nil
}

// checkAppVersion rejects documents exported by a newer major app version;
// their schema may carry fields this build cannot represent.
func checkAppVersion(docVersion, appVersion string) error {
	if docVersion == "" || appVersion == "" {
		return nil
	}
	dv, av := canonicalVersion(docVersion), canonicalVersion(appVersion)
	if !semver.IsValid(dv) || !semver.IsValid(av) {
		return nil
	}
	if semver.Compare(semver.Major(dv), semver.Major(av)) > 0 {
		return fmt.Errorf("document from app %s is newer than this app (%s): %w",
			docVersion, appVersion, ErrInvalidDocument)
	}
	return nil
}

func canonicalVersion(v string) string {
	if len(v) > 0 && v[0] != 'v' {
		return "v" + v
	}
	return v
}
