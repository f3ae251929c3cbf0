package entity

import "fmt"

// SpeechPatternsSchemaVersion is stamped into every persisted SpeechPatterns
// block so future schema changes can migrate old rows.
const SpeechPatternsSchemaVersion = 1

// SpeechPatterns describes how a character talks. It is persisted as a typed
// serialized column with an explicit schema version, never an opaque blob.
type SpeechPatterns struct {
	SchemaVersion int      `json:"schema_version"`
	Formality     float64  `json:"formality"`
	Verbosity     float64  `json:"verbosity"`
	Quirks        []string `json:"quirks,omitempty"`
	CatchPhrases  []string `json:"catch_phrases,omitempty"`
}

// Character is an AI persona. System characters ship with the app, have no
// owner, and are immutable; user characters are owned and mutable.
type Character struct {
	Meta

	// OwnerID is empty for system characters.
	OwnerID string `json:"owner_id,omitempty"`

	Name      string `json:"name"`
	Backstory string `json:"backstory,omitempty"`

	// Traits maps trait names to strengths in [0, 1].
	Traits map[string]float64 `json:"traits,omitempty"`

	SpeechPatterns SpeechPatterns `json:"speech_patterns"`

	Visible bool `json:"visible"`
}

// IsSystem reports whether the character is a shared, immutable system
// persona.
func (c *Character) IsSystem() bool { return c.OwnerID == "" }

// Validate checks required fields and trait ranges.
func (c *Character) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("character id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("character name is required")
	}
	if len(c.Name) > 120 {
		return fmt.Errorf("character name must be 120 characters or less (got %d)", len(c.Name))
	}
	for trait, v := range c.Traits {
		if v < 0 || v > 1 {
			return fmt.Errorf("trait %q must be between 0 and 1 (got %g)", trait, v)
		}
	}
	if c.SpeechPatterns.SchemaVersion == 0 {
		c.SpeechPatterns.SchemaVersion = SpeechPatternsSchemaVersion
	}
	return nil
}
