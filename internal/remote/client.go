// Package remote defines the contract with the remote service the sync
// reconciler talks to. The service is an opaque, fallible collaborator:
// request in, result or categorized error out. Auth mechanics live with an
// external collaborator; this package only needs a bearer token source.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emberchat/ember-core/internal/entity"
)

// Categorized remote errors. The reconciler downgrades everything except
// ErrUnauthorized to "retry later".
var (
	// ErrUnauthorized covers both unauthenticated and forbidden responses;
	// reconciliation halts until re-authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeout marks a transport timeout; the row stays pending.
	ErrTimeout = errors.New("remote timeout")

	// ErrNotFound means the service has no record under that id. For a
	// delete that is success arriving late.
	ErrNotFound = errors.New("remote record not found")
)

// Record is the wire envelope for one entity row. Payload is the entity's
// JSON form; UpdatedAt is lifted out so conflict resolution can compare
// timestamps without decoding payloads.
type Record struct {
	ID        string          `json:"id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
}

// ConflictError reports a version-mismatch rejection. Server carries the
// server's current version of the row so the reconciler can resolve by
// last-write-wins without another round trip.
type ConflictError struct {
	Server Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: server has %s updated at %s", e.Server.ID, e.Server.UpdatedAt.Format(time.RFC3339))
}

// AsConflict unwraps err into a ConflictError if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Client is the remote service surface the reconciler consumes.
type Client interface {
	// List returns every record of the given type updated since the
	// checkpoint, oldest first.
	List(ctx context.Context, typ entity.Type, since time.Time) ([]Record, error)

	// Create stores a locally-minted record and returns the canonical
	// server form, possibly under a server-assigned id.
	Create(ctx context.Context, typ entity.Type, rec Record) (Record, error)

	// Update overwrites the server's record. Without force, a server row
	// with a newer updated_at is rejected with a ConflictError; with
	// force, last-write-wins resolution overwrites it unconditionally.
	Update(ctx context.Context, typ entity.Type, rec Record, force bool) (Record, error)

	// Delete removes the record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, typ entity.Type, id string) error
}

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed-credential TokenSource.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrUnauthorized
	}
	return string(s), nil
}
