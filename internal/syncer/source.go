package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/remote"
	"github.com/emberchat/ember-core/internal/repo"
)

// Row is one local row in wire-ready form plus the sync bookkeeping the
// reconciler needs to decide between create, update, and conflict paths.
type Row struct {
	ID            string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	State         entity.SyncState
	ServerVersion int64
	Record        remote.Record
}

// Source adapts one entity type's repository to the reconciler.
type Source interface {
	Kind() entity.Type

	// Pending returns rows awaiting a push, oldest first.
	Pending(ctx context.Context) ([]Row, error)

	// Conflicted returns rows flagged for last-write-wins resolution.
	Conflicted(ctx context.Context) ([]Row, error)

	MarkSynced(ctx context.Context, id string) error
	MarkConflict(ctx context.Context, id string) error

	// Adopt replaces localID with the server's canonical record.
	Adopt(ctx context.Context, localID string, rec remote.Record) error

	// Apply lands a pulled record, reporting false when a newer unpushed
	// local mutation kept it out.
	Apply(ctx context.Context, rec remote.Record) (bool, error)
}

// ForRepo wraps a repository as a reconciler Source. The entity's JSON form
// is the wire payload, so the repositories' conversion functions stay the
// single source of truth for domain⇄persisted⇄wire mapping.
func ForRepo[D entity.Syncable](r *repo.Repo[D]) Source {
	return &repoSource[D]{r: r}
}

// StandardSources wires the five synced repositories in the standard
// parent-before-child order (entity.SyncOrder). Users are deliberately
// absent: the auth collaborator owns the account row.
func StandardSources(chars *repo.Characters, convs *repo.Conversations, msgs *repo.Messages, mems *repo.Memories, learns *repo.Learnings) []Source {
	return []Source{
		ForRepo(chars.Repo),
		ForRepo(convs.Repo),
		ForRepo(msgs.Repo),
		ForRepo(mems.Repo),
		ForRepo(learns.Repo),
	}
}

type repoSource[D entity.Syncable] struct {
	r *repo.Repo[D]
}

func (s *repoSource[D]) Kind() entity.Type { return s.r.Kind() }

func (s *repoSource[D]) Pending(ctx context.Context) ([]Row, error) {
	ds, err := s.r.PendingPush(ctx)
	if err != nil {
		return nil, err
	}
	return s.rows(ds)
}

func (s *repoSource[D]) Conflicted(ctx context.Context) ([]Row, error) {
	ds, err := s.r.Conflicted(ctx)
	if err != nil {
		return nil, err
	}
	return s.rows(ds)
}

func (s *repoSource[D]) rows(ds []D) ([]Row, error) {
	out := make([]Row, 0, len(ds))
	for _, d := range ds {
		rec, err := encode(d)
		if err != nil {
			return nil, err
		}
		m := d.Sync()
		out = append(out, Row{
			ID:            m.ID,
			CreatedAt:     m.CreatedAt,
			UpdatedAt:     m.UpdatedAt,
			State:         m.SyncState,
			ServerVersion: m.ServerVersion,
			Record:        rec,
		})
	}
	return out, nil
}

func (s *repoSource[D]) MarkSynced(ctx context.Context, id string) error {
	return s.r.MarkSynced(ctx, id)
}

func (s *repoSource[D]) MarkConflict(ctx context.Context, id string) error {
	return s.r.MarkConflict(ctx, id)
}

func (s *repoSource[D]) Adopt(ctx context.Context, localID string, rec remote.Record) error {
	d, err := s.decode(rec)
	if err != nil {
		return err
	}
	return s.r.Adopt(ctx, localID, d)
}

func (s *repoSource[D]) Apply(ctx context.Context, rec remote.Record) (bool, error) {
	d, err := s.decode(rec)
	if err != nil {
		return false, err
	}
	if err := s.r.Apply(ctx, d); err != nil {
		if repo.SkippedApply(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *repoSource[D]) decode(rec remote.Record) (D, error) {
	d := s.r.NewEntity()
	if err := json.Unmarshal(rec.Payload, d); err != nil {
		return d, fmt.Errorf("undecodable %s record %s: %w", s.r.Kind(), rec.ID, err)
	}
	// the envelope is authoritative over the payload copy
	m := d.Sync()
	m.ID = rec.ID
	m.UpdatedAt = rec.UpdatedAt.UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}
	return d, nil
}

func encode[D entity.Syncable](d D) (remote.Record, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return remote.Record{}, fmt.Errorf("failed to encode %s: %w", d.EntityID(), err)
	}
	m := d.Sync()
	return remote.Record{
		ID:        m.ID,
		UpdatedAt: m.UpdatedAt,
		Payload:   payload,
	}, nil
}
