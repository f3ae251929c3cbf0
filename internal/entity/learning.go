package entity

import "fmt"

// FeedbackKind classifies a learning record.
type FeedbackKind string

const (
	FeedbackPositive   FeedbackKind = "positive"
	FeedbackCorrection FeedbackKind = "correction"
)

// Valid reports whether k is a known feedback kind.
func (k FeedbackKind) Valid() bool {
	return k == FeedbackPositive || k == FeedbackCorrection
}

// CharacterLearning records user feedback about a character's behavior.
// Importance is adjusted over time and always clamped to [0, 1].
type CharacterLearning struct {
	Meta

	CharacterID string       `json:"character_id"`
	Kind        FeedbackKind `json:"kind"`
	Feedback    string       `json:"feedback"`
	Importance  float64      `json:"importance"`
}

// Validate checks required fields and the importance range.
func (l *CharacterLearning) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("learning id is required")
	}
	if l.CharacterID == "" {
		return fmt.Errorf("learning character id is required")
	}
	if !l.Kind.Valid() {
		return fmt.Errorf("unknown feedback kind %q", l.Kind)
	}
	if l.Importance < 0 || l.Importance > 1 {
		return fmt.Errorf("importance must be between 0 and 1 (got %g)", l.Importance)
	}
	return nil
}
