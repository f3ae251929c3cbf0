package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/emberchat/ember-core/internal/entity"
)

// CharacterPack is a TOML file of system personas seeded into the store at
// startup. Packs are authored by hand, so parsing is strict about the
// fields that matter and lenient about omissions.
type CharacterPack struct {
	Name       string          `toml:"name"`
	Characters []PackCharacter `toml:"character"`
}

// PackCharacter is one persona entry in a pack file.
type PackCharacter struct {
	ID           string             `toml:"id"`
	Name         string             `toml:"name"`
	Backstory    string             `toml:"backstory"`
	Traits       map[string]float64 `toml:"traits"`
	Formality    float64            `toml:"formality"`
	Verbosity    float64            `toml:"verbosity"`
	Quirks       []string           `toml:"quirks"`
	CatchPhrases []string           `toml:"catch_phrases"`
	Hidden       bool               `toml:"hidden"`
}

// LoadCharacterPack parses a pack file and converts its entries to system
// characters ready for seeding.
func LoadCharacterPack(path string) ([]*entity.Character, error) {
	var pack CharacterPack
	if _, err := toml.DecodeFile(path, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse character pack %s: %w", path, err)
	}

	chars := make([]*entity.Character, 0, len(pack.Characters))
	for i, pc := range pack.Characters {
		if pc.ID == "" {
			return nil, fmt.Errorf("character pack %s: entry %d has no id", path, i)
		}
		c := &entity.Character{
			Name:      pc.Name,
			Backstory: pc.Backstory,
			Traits:    pc.Traits,
			SpeechPatterns: entity.SpeechPatterns{
				SchemaVersion: entity.SpeechPatternsSchemaVersion,
				Formality:     pc.Formality,
				Verbosity:     pc.Verbosity,
				Quirks:        pc.Quirks,
				CatchPhrases:  pc.CatchPhrases,
			},
			Visible: !pc.Hidden,
		}
		c.ID = pc.ID
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("character pack %s: entry %q: %w", path, pc.ID, err)
		}
		chars = append(chars, c)
	}
	return chars, nil
}
