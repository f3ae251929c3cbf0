package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/store"
)

// ErrImmutableCharacter is returned when a mutation targets a system
// character. System personas ship with the app and are shared read-only.
var ErrImmutableCharacter = errors.New("system characters are immutable")

// Characters is the repository for character rows. Deleting a character
// cascades its memories and learnings at the store level.
type Characters struct {
	*Repo[*entity.Character]
}

// NewCharacters creates the character repository.
func NewCharacters(db *store.DB) *Characters {
	return &Characters{New(db, charactersTable())}
}

func charactersTable() Table[*entity.Character] {
	return Table[*entity.Character]{
		Name: "characters",
		Type: entity.TypeCharacter,
		Columns: []string{
			"id", "owner_id", "name", "backstory", "traits",
			"speech_patterns", "visible",
			"sync_state", "server_version", "created_at", "updated_at",
		},
		SearchColumns: []string{"name", "backstory"},
		Children: []ChildLink{
			{Table: "character_memories", Column: "character_id", Cascade: true},
			{Table: "character_learnings", Column: "character_id", Cascade: true},
			{Table: "conversations", Column: "character_id"},
		},
		New:  func() *entity.Character { return &entity.Character{} },
		Bind: bindCharacter,
		Scan: scanCharacter,
	}
}

func bindCharacter(c *entity.Character) ([]any, error) {
	traits, err := jsonText(c.Traits)
	if err != nil {
		return nil, err
	}
	patterns, err := jsonText(c.SpeechPatterns)
	if err != nil {
		return nil, err
	}
	return []any{
		c.ID,
		nullStr(c.OwnerID),
		c.Name,
		nullStr(c.Backstory),
		traits,
		patterns,
		boolToInt(c.Visible),
		string(c.SyncState),
		c.ServerVersion,
		fmtTime(c.CreatedAt),
		fmtTime(c.UpdatedAt),
	}, nil
}

func scanCharacter(row RowScanner) (*entity.Character, error) {
	var (
		c                                   entity.Character
		ownerID, backstory, traits, speech  sql.NullString
		visible                             int
		syncState, createdAt, updatedAt     string
	)
	if err := row.Scan(
		&c.ID, &ownerID, &c.Name, &backstory, &traits,
		&speech, &visible,
		&syncState, &c.ServerVersion, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	c.OwnerID = ownerID.String
	c.Backstory = backstory.String
	c.Visible = visible != 0

	if err := fromJSONText(traits, &c.Traits); err != nil {
		return nil, err
	}
	if err := fromJSONText(speech, &c.SpeechPatterns); err != nil {
		return nil, err
	}

	var err error
	if c.SyncState, err = entity.ParseSyncState(syncState); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Update shadows the generic update with the system-character guard.
func (r *Characters) Update(ctx context.Context, id string, mutate func(*entity.Character) error) (*entity.Character, error) {
	existing, err := r.fetchAny(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsSystem() {
		return nil, fmt.Errorf("character %s: %w", id, ErrImmutableCharacter)
	}
	return r.Repo.Update(ctx, id, mutate)
}

// Delete shadows the generic delete with the system-character guard.
func (r *Characters) Delete(ctx context.Context, id string) error {
	existing, err := r.fetchAny(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem() {
		return fmt.Errorf("character %s: %w", id, ErrImmutableCharacter)
	}
	return r.Repo.Delete(ctx, id)
}

// ListForOwner returns the user's own characters.
func (r *Characters) ListForOwner(ctx context.Context, ownerID string) ([]*entity.Character, error) {
	return r.FetchAll(ctx, Query{
		Where:   []Cond{{Col: "owner_id", Op: "=", Val: ownerID}},
		OrderBy: "name",
	})
}

// ListVisible returns every character the picker should show: system
// personas plus the owner's visible ones.
func (r *Characters) ListVisible(ctx context.Context, ownerID string) ([]*entity.Character, error) {
	all, err := r.FetchAll(ctx, Query{
		Where:   []Cond{{Col: "visible", Op: "=", Val: 1}},
		OrderBy: "name",
	})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.IsSystem() || c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

// Seed upserts a system character from a character pack. Seeded rows are
// stamped synced: packs ship with the app and are never pushed. Seeding is
// idempotent and never replaces a user-owned row with the same id.
func (r *Characters) Seed(ctx context.Context, c *entity.Character) error {
	if !c.IsSystem() {
		return fmt.Errorf("seed is reserved for system characters (got owner %s)", c.OwnerID)
	}
	existing, err := r.fetchAny(ctx, c.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err == nil && !existing.IsSystem() {
		return fmt.Errorf("character %s already exists as a user character", c.ID)
	}

	now := r.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.SyncState = entity.SyncSynced
	if c.ServerVersion == 0 {
		c.ServerVersion = 1
	}
	return r.Upsert(ctx, c)
}
