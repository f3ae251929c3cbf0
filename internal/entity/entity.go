package entity

import (
	"fmt"
	"time"
)

// SyncState tracks whether a local row has been acknowledged by the remote
// service. Rows move pending-push -> synced on acknowledgment, or
// pending-push -> conflict when the server reports a newer version.
type SyncState string

const (
	// SyncLocalOnly marks rows created on-device that have never been
	// attempted against the server (e.g. rows restored from a backup).
	SyncLocalOnly SyncState = "local-only"

	// SyncPending marks rows created or mutated locally that must be pushed
	// before being considered durable on the server.
	SyncPending SyncState = "pending-push"

	// SyncSynced marks rows whose current local state the server has
	// acknowledged.
	SyncSynced SyncState = "synced"

	// SyncConflict marks rows whose push was rejected because the server's
	// version diverged. The reconciler resolves these by last-write-wins.
	SyncConflict SyncState = "conflict"
)

// Valid reports whether s is one of the four known states.
func (s SyncState) Valid() bool {
	switch s {
	case SyncLocalOnly, SyncPending, SyncSynced, SyncConflict:
		return true
	}
	return false
}

// ParseSyncState converts a stored string back into a SyncState.
func ParseSyncState(raw string) (SyncState, error) {
	s := SyncState(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown sync state %q", raw)
	}
	return s, nil
}

// Type identifies an entity kind. It doubles as the remote service's
// collection name and the checkpoint key.
type Type string

const (
	TypeUser         Type = "users"
	TypeCharacter    Type = "characters"
	TypeConversation Type = "conversations"
	TypeMessage      Type = "messages"
	TypeMemory       Type = "character_memories"
	TypeLearning     Type = "character_learnings"
)

// SyncOrder is the fixed order in which the reconciler processes entity
// types within one pass. Parents come before children so pulled rows never
// reference a parent the store has not seen yet.
var SyncOrder = []Type{
	TypeCharacter,
	TypeConversation,
	TypeMessage,
	TypeMemory,
	TypeLearning,
}

// Meta is the bookkeeping block embedded in every syncable entity.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncState SyncState `json:"sync_state"`

	// ServerVersion is zero for rows the server has never seen. The push
	// phase uses it to decide between create and update calls.
	ServerVersion int64 `json:"server_version,omitempty"`
}

// EntityID returns the row id.
func (m *Meta) EntityID() string { return m.ID }

// Sync exposes the embedded block to generic code.
func (m *Meta) Sync() *Meta { return m }

// Syncable is implemented by every domain type the repositories manage.
type Syncable interface {
	EntityID() string
	Sync() *Meta
	Validate() error
}

// ClampScore bounds a confidence/importance score to [0, 1].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
