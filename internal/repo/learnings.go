package repo

import (
	"context"
	"database/sql"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/store"
)

// Learnings is the repository for character learning rows.
type Learnings struct {
	*Repo[*entity.CharacterLearning]
}

// NewLearnings creates the learning repository.
func NewLearnings(db *store.DB) *Learnings {
	return &Learnings{New(db, learningsTable())}
}

func learningsTable() Table[*entity.CharacterLearning] {
	return Table[*entity.CharacterLearning]{
		Name: "character_learnings",
		Type: entity.TypeLearning,
		Columns: []string{
			"id", "character_id", "kind", "feedback", "importance",
			"sync_state", "server_version", "created_at", "updated_at",
		},
		SearchColumns: []string{"feedback"},
		New:           func() *entity.CharacterLearning { return &entity.CharacterLearning{} },
		Bind:          bindLearning,
		Scan:          scanLearning,
	}
}

func bindLearning(l *entity.CharacterLearning) ([]any, error) {
	return []any{
		l.ID,
		l.CharacterID,
		string(l.Kind),
		nullStr(l.Feedback),
		l.Importance,
		string(l.SyncState),
		l.ServerVersion,
		fmtTime(l.CreatedAt),
		fmtTime(l.UpdatedAt),
	}, nil
}

func scanLearning(row RowScanner) (*entity.CharacterLearning, error) {
	var (
		l                               entity.CharacterLearning
		kind                            string
		feedback                        sql.NullString
		syncState, createdAt, updatedAt string
	)
	if err := row.Scan(
		&l.ID, &l.CharacterID, &kind, &feedback, &l.Importance,
		&syncState, &l.ServerVersion, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	l.Kind = entity.FeedbackKind(kind)
	l.Feedback = feedback.String

	var err error
	if l.SyncState, err = entity.ParseSyncState(syncState); err != nil {
		return nil, err
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// RecordFeedback stores a new learning for the character.
func (r *Learnings) RecordFeedback(ctx context.Context, characterID string, kind entity.FeedbackKind, feedback string, importance float64) (*entity.CharacterLearning, error) {
	return r.Create(ctx, &entity.CharacterLearning{
		CharacterID: characterID,
		Kind:        kind,
		Feedback:    feedback,
		Importance:  entity.ClampScore(importance),
	})
}

// ListByCharacter returns a character's learnings, most important first.
func (r *Learnings) ListByCharacter(ctx context.Context, characterID string) ([]*entity.CharacterLearning, error) {
	return r.FetchAll(ctx, Query{
		Where:   []Cond{{Col: "character_id", Op: "=", Val: characterID}},
		OrderBy: "importance",
		Desc:    true,
	})
}

// AdjustImportance shifts the learning's importance by delta, clamped to
// [0, 1].
func (r *Learnings) AdjustImportance(ctx context.Context, id string, delta float64) (*entity.CharacterLearning, error) {
	return r.Update(ctx, id, func(l *entity.CharacterLearning) error {
		l.Importance = entity.ClampScore(l.Importance + delta)
		return nil
	})
}
