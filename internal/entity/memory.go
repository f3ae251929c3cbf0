package entity

import "fmt"

// CharacterMemory is a learned input/output pair a character uses to adapt.
// Confidence is adjusted over time and always clamped to [0, 1].
type CharacterMemory struct {
	Meta

	CharacterID string  `json:"character_id"`
	Input       string  `json:"input"`
	Output      string  `json:"output"`
	Confidence  float64 `json:"confidence"`
}

// Validate checks required fields and the confidence range.
func (m *CharacterMemory) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("memory id is required")
	}
	if m.CharacterID == "" {
		return fmt.Errorf("memory character id is required")
	}
	if m.Input == "" {
		return fmt.Errorf("memory input is required")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1 (got %g)", m.Confidence)
	}
	return nil
}
