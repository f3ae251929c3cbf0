package repo

import (
	"context"
	"database/sql"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/store"
)

// Memories is the repository for character memory rows.
type Memories struct {
	*Repo[*entity.CharacterMemory]
}

// NewMemories creates the memory repository.
func NewMemories(db *store.DB) *Memories {
	return &Memories{New(db, memoriesTable())}
}

func memoriesTable() Table[*entity.CharacterMemory] {
	return Table[*entity.CharacterMemory]{
		Name: "character_memories",
		Type: entity.TypeMemory,
		Columns: []string{
			"id", "character_id", "input", "output", "confidence",
			"sync_state", "server_version", "created_at", "updated_at",
		},
		SearchColumns: []string{"input", "output"},
		New:           func() *entity.CharacterMemory { return &entity.CharacterMemory{} },
		Bind:          bindMemory,
		Scan:          scanMemory,
	}
}

func bindMemory(m *entity.CharacterMemory) ([]any, error) {
	return []any{
		m.ID,
		m.CharacterID,
		m.Input,
		nullStr(m.Output),
		m.Confidence,
		string(m.SyncState),
		m.ServerVersion,
		fmtTime(m.CreatedAt),
		fmtTime(m.UpdatedAt),
	}, nil
}

func scanMemory(row RowScanner) (*entity.CharacterMemory, error) {
	var (
		m                               entity.CharacterMemory
		output                          sql.NullString
		syncState, createdAt, updatedAt string
	)
	if err := row.Scan(
		&m.ID, &m.CharacterID, &m.Input, &output, &m.Confidence,
		&syncState, &m.ServerVersion, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	m.Output = output.String

	var err error
	if m.SyncState, err = entity.ParseSyncState(syncState); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByCharacter returns a character's memories, strongest first.
func (r *Memories) ListByCharacter(ctx context.Context, characterID string) ([]*entity.CharacterMemory, error) {
	return r.FetchAll(ctx, Query{
		Where:   []Cond{{Col: "character_id", Op: "=", Val: characterID}},
		OrderBy: "confidence",
		Desc:    true,
	})
}

// AdjustConfidence shifts the memory's confidence by delta, clamped to
// [0, 1].
func (r *Memories) AdjustConfidence(ctx context.Context, id string, delta float64) (*entity.CharacterMemory, error) {
	return r.Update(ctx, id, func(m *entity.CharacterMemory) error {
		m.Confidence = entity.ClampScore(m.Confidence + delta)
		return nil
	})
}

// Reinforce bumps confidence by 0.1, capped at 1.0.
func (r *Memories) Reinforce(ctx context.Context, id string) (*entity.CharacterMemory, error) {
	return r.AdjustConfidence(ctx, id, 0.1)
}
