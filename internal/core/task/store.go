package task

import (
	"context"
	"time"
)

// Store defines durable keyed storage for task records. Records are keyed by
// ClientID. Every write replaces the whole record in a single statement, so a
// reader never observes a partially applied record.
type Store interface {
	// Put creates or overwrites the record with the same ClientID.
	Put(ctx context.Context, t Task) error

	// Get returns the record for a client id.
	// Returns ErrNotFound if the record does not exist.
	Get(ctx context.Context, clientID string) (Task, error)

	// FindByServerID returns the record carrying the given server id.
	// Returns ErrNotFound if no record matches.
	FindByServerID(ctx context.Context, serverID string) (Task, error)

	// Remove deletes a record. Removing a missing record is not an error.
	Remove(ctx context.Context, clientID string) error

	// List returns all records, tombstones included, most recent first by
	// CreatedAt.
	List(ctx context.Context) ([]Task, error)

	// PurgeTombstones physically removes tombstoned records last updated
	// before the cutoff that are no longer referenced by a pending operation.
	PurgeTombstones(ctx context.Context, before time.Time) (int64, error)
}
