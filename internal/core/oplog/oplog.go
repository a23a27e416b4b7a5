// Package oplog defines the durable, ordered log of task mutations that have
// not yet been confirmed by the server, and the drain loop that replays it.
package oplog

import (
	"context"
	"errors"
	"time"

	"github.com/colonyops/tasksync/internal/core/task"
)

var (
	// ErrEmpty is returned by Store.Head when the log holds no entries.
	ErrEmpty = errors.New("pending operation log is empty")
	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("pending operation not found")
)

// Op is the kind of mutation an entry replays.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// IsValid reports whether o is a known operation.
func (o Op) IsValid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Entry is a single pending mutation.
//
// Seq is assigned by the Store on append and defines the replay order.
// Payload is the task snapshot taken when the mutation was issued; it is nil
// for deletes.
type Entry struct {
	Seq        int64      `json:"seq"`
	ID         string     `json:"id"`
	Op         Op         `json:"op"`
	ClientID   string     `json:"clientId"`
	Payload    *task.Task `json:"payload,omitempty"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"lastError,omitempty"`
}

// Store is the durable backing of the log. Append must be durable before it
// returns.
type Store interface {
	// Append persists e and sets e.Seq.
	Append(ctx context.Context, e *Entry) error

	// Head returns the entry with the lowest Seq. Returns ErrEmpty when the
	// log holds no entries.
	Head(ctx context.Context) (Entry, error)

	// List returns all entries in replay order.
	List(ctx context.Context) ([]Entry, error)

	// Delete removes an entry by id. Returns ErrNotFound if missing.
	Delete(ctx context.Context, id string) error

	// RecordFailure increments the attempt counter and stores the message.
	RecordFailure(ctx context.Context, id string, msg string) error

	// Len returns the number of entries.
	Len(ctx context.Context) (int64, error)

	// CountForClient returns the number of entries referencing a client id.
	CountForClient(ctx context.Context, clientID string) (int64, error)
}
