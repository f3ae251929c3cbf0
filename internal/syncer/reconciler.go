package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/emberchat/ember-core/internal/breaker"
	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/remote"
	"github.com/emberchat/ember-core/internal/store"
)

// Stats summarizes one reconciliation pass.
type Stats struct {
	Pushed    int // rows the server acknowledged
	Pulled    int // server rows landed locally
	Conflicts int // rows that went through last-write-wins
	Failures  int // transient failures left for the next pass
}

// Event reports per-type progress to observers (dashboard, status CLI).
type Event struct {
	Type      entity.Type   `json:"type"`
	Pushed    int           `json:"pushed"`
	Pulled    int           `json:"pulled"`
	Conflicts int           `json:"conflicts"`
	Failures  int           `json:"failures"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Reconciler drives push-then-pull passes over every registered source.
type Reconciler struct {
	db       *store.DB
	client   remote.Client
	breakers *breaker.Registry
	sources  []Source
	logger   *log.Logger
	onEvent  func(Event)
}

// New creates a reconciler. Sources are processed in the order given; use
// Sources for the standard parent-before-child ordering. A nil logger logs
// to stderr.
func New(db *store.DB, client remote.Client, breakers *breaker.Registry, sources []Source, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &Reconciler{
		db:       db,
		client:   client,
		breakers: breakers,
		sources:  sources,
		logger:   logger,
	}
}

// OnEvent registers a hook invoked after each entity type's phase completes.
func (r *Reconciler) OnEvent(fn func(Event)) { r.onEvent = fn }

// Run performs one reconciliation pass. Cancelling ctx between entity types
// abandons the pass safely; each type's push/pull is independently
// resumable. An authorization failure halts the pass immediately.
func (r *Reconciler) Run(ctx context.Context) (*Stats, error) {
	total := &Stats{}
	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		started := time.Now()
		stats := &Stats{}
		err := r.reconcileType(ctx, src, stats)

		total.Pushed += stats.Pushed
		total.Pulled += stats.Pulled
		total.Conflicts += stats.Conflicts
		total.Failures += stats.Failures

		if r.onEvent != nil {
			r.onEvent(Event{
				Type:      src.Kind(),
				Pushed:    stats.Pushed,
				Pulled:    stats.Pulled,
				Conflicts: stats.Conflicts,
				Failures:  stats.Failures,
				Elapsed:   time.Since(started),
			})
		}

		if err != nil {
			if errors.Is(err, remote.ErrUnauthorized) {
				r.logger.Printf("Halting pass: %v", err)
				return total, err
			}
			return total, err
		}
	}

	r.logger.Printf("Pass complete: pushed=%d pulled=%d conflicts=%d failures=%d",
		total.Pushed, total.Pulled, total.Conflicts, total.Failures)
	return total, nil
}

func (r *Reconciler) reconcileType(ctx context.Context, src Source, stats *Stats) error {
	br := r.breakers.Get(string(src.Kind()))

	if err := r.pushDeletions(ctx, src, br, stats); err != nil {
		return err
	}
	if err := r.push(ctx, src, br, stats); err != nil {
		return err
	}
	if err := r.resolveConflicts(ctx, src, br, stats); err != nil {
		return err
	}
	return r.pull(ctx, src, br, stats)
}

// pushDeletions drains the type's deletion journal before upserts, so a
// row deleted and re-created under the same id lands in the right order.
// A row the server already forgot counts as delivered.
func (r *Reconciler) pushDeletions(ctx context.Context, src Source, br *breaker.Breaker, stats *Stats) error {
	ids, err := r.db.PendingDeletions(ctx, src.Kind())
	if err != nil {
		return err
	}

	for i, id := range ids {
		_, err := guard(ctx, br, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.client.Delete(ctx, src.Kind(), id)
		})

		switch {
		case err == nil || errors.Is(err, remote.ErrNotFound):
			if err := r.db.ClearDeletion(ctx, src.Kind(), id); err != nil {
				return err
			}
			stats.Pushed++

		case errors.Is(err, remote.ErrUnauthorized):
			return err

		case errors.Is(err, breaker.ErrCircuitOpen):
			r.logger.Printf("Circuit open for %s, deferring %d deletions", src.Kind(), len(ids)-i)
			stats.Failures += len(ids) - i
			return nil

		default:
			r.logger.Printf("WARNING: delete %s %s failed, will retry: %v", src.Kind(), id, err)
			stats.Failures++
		}
	}
	return nil
}

// push drains pending-push and local-only rows, oldest first. Rows the
// server has never seen go through Create; previously-synced rows go
// through Update. Transient failures leave the row untouched for the next
// pass; an open circuit skips the rest of the type outright.
func (r *Reconciler) push(ctx context.Context, src Source, br *breaker.Breaker, stats *Stats) error {
	rows, err := src.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to select pending %s: %w", src.Kind(), err)
	}

	for _, row := range rows {
		resp, err := guard(ctx, br, func(ctx context.Context) (remote.Record, error) {
			if row.ServerVersion == 0 {
				return r.client.Create(ctx, src.Kind(), row.Record)
			}
			return r.client.Update(ctx, src.Kind(), row.Record, false)
		})

		switch {
		case err == nil:
			if err := src.Adopt(ctx, row.ID, resp); err != nil {
				return fmt.Errorf("failed to adopt pushed %s %s: %w", src.Kind(), row.ID, err)
			}
			stats.Pushed++

		case errors.Is(err, remote.ErrUnauthorized):
			return err

		case isConflict(err):
			if err := src.MarkConflict(ctx, row.ID); err != nil {
				return fmt.Errorf("failed to mark %s %s conflicted: %w", src.Kind(), row.ID, err)
			}
			stats.Conflicts++

		case errors.Is(err, breaker.ErrCircuitOpen):
			r.logger.Printf("Circuit open for %s, deferring %d rows", src.Kind(), remaining(rows, row))
			stats.Failures += remaining(rows, row)
			return nil

		default:
			r.logger.Printf("WARNING: push %s %s failed, will retry: %v", src.Kind(), row.ID, err)
			stats.Failures++
		}
	}
	return nil
}

// resolveConflicts settles conflict-state rows by last-write-wins on
// updated_at: a newer local row is force-pushed, an older one is discarded
// in favor of the server's version.
func (r *Reconciler) resolveConflicts(ctx context.Context, src Source, br *breaker.Breaker, stats *Stats) error {
	rows, err := src.Conflicted(ctx)
	if err != nil {
		return fmt.Errorf("failed to select conflicted %s: %w", src.Kind(), err)
	}

	for _, row := range rows {
		// re-offering the row gets us the server's current version
		resp, err := guard(ctx, br, func(ctx context.Context) (remote.Record, error) {
			return r.client.Update(ctx, src.Kind(), row.Record, false)
		})
		if err == nil {
			// the divergence healed server-side in the meantime
			if err := src.Adopt(ctx, row.ID, resp); err != nil {
				return fmt.Errorf("failed to adopt %s %s: %w", src.Kind(), row.ID, err)
			}
			stats.Pushed++
			continue
		}
		if errors.Is(err, remote.ErrUnauthorized) {
			return err
		}

		ce, ok := remote.AsConflict(err)
		if !ok {
			if errors.Is(err, breaker.ErrCircuitOpen) {
				stats.Failures += remaining(rows, row)
				return nil
			}
			r.logger.Printf("WARNING: conflict probe %s %s failed, will retry: %v", src.Kind(), row.ID, err)
			stats.Failures++
			continue
		}

		if row.UpdatedAt.After(ce.Server.UpdatedAt) {
			resp, err := guard(ctx, br, func(ctx context.Context) (remote.Record, error) {
				return r.client.Update(ctx, src.Kind(), row.Record, true)
			})
			if err != nil {
				if errors.Is(err, remote.ErrUnauthorized) {
					return err
				}
				r.logger.Printf("WARNING: overwrite %s %s failed, will retry: %v", src.Kind(), row.ID, err)
				stats.Failures++
				continue
			}
			if err := src.Adopt(ctx, row.ID, resp); err != nil {
				return fmt.Errorf("failed to adopt %s %s: %w", src.Kind(), row.ID, err)
			}
		} else {
			if err := src.Adopt(ctx, row.ID, ce.Server); err != nil {
				return fmt.Errorf("failed to adopt server %s %s: %w", src.Kind(), row.ID, err)
			}
		}
		stats.Conflicts++
	}
	return nil
}

// pull lists server rows updated since the type's checkpoint and lands them
// stamped synced. The checkpoint only advances after every listed row
// either applied cleanly or was skipped for a newer local mutation.
func (r *Reconciler) pull(ctx context.Context, src Source, br *breaker.Breaker, stats *Stats) error {
	since, err := r.db.Checkpoint(ctx, src.Kind())
	if err != nil {
		return err
	}

	recs, err := guard(ctx, br, func(ctx context.Context) ([]remote.Record, error) {
		return r.client.List(ctx, src.Kind(), since)
	})
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			return err
		}
		r.logger.Printf("WARNING: pull %s failed, will retry: %v", src.Kind(), err)
		stats.Failures++
		return nil
	}

	// rows still journaled for deletion must not be re-landed by a pull
	// that raced ahead of the delete
	doomed, err := r.db.PendingDeletions(ctx, src.Kind())
	if err != nil {
		return err
	}
	skip := make(map[string]bool, len(doomed))
	for _, id := range doomed {
		skip[id] = true
	}

	watermark := since
	clean := true
	for _, rec := range recs {
		if skip[rec.ID] {
			continue
		}
		applied, err := src.Apply(ctx, rec)
		if err != nil {
			r.logger.Printf("WARNING: failed to apply pulled %s %s: %v", src.Kind(), rec.ID, err)
			stats.Failures++
			clean = false
			continue
		}
		if applied {
			stats.Pulled++
		}
		if rec.UpdatedAt.After(watermark) {
			watermark = rec.UpdatedAt
		}
	}

	if clean && watermark.After(since) {
		if err := r.db.SetCheckpoint(ctx, src.Kind(), watermark); err != nil {
			return err
		}
	}
	return nil
}

func isConflict(err error) bool {
	_, ok := remote.AsConflict(err)
	return ok
}

// guard runs a remote call through the breaker. Version conflicts,
// authorization rejections, and missing records are answers from a live
// service, not outages: they flow back to the caller but never count
// toward opening the circuit.
func guard[T any](ctx context.Context, br *breaker.Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var rejection error
	out, err := breaker.Do(ctx, br, func(ctx context.Context) (T, error) {
		out, err := op(ctx)
		if isRejection(err) {
			rejection = err
			return out, nil
		}
		return out, err
	})
	if err == nil && rejection != nil {
		err = rejection
	}
	return out, err
}

// isRejection reports whether the service answered with a business
// rejection rather than failing to answer at all.
func isRejection(err error) bool {
	if err == nil {
		return false
	}
	return isConflict(err) || errors.Is(err, remote.ErrUnauthorized) || errors.Is(err, remote.ErrNotFound)
}

// remaining counts row and everything after it in rows.
func remaining(rows []Row, row Row) int {
	for i := range rows {
		if rows[i].ID == row.ID {
			return len(rows) - i
		}
	}
	return 0
}
