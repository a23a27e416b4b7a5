package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/tasksync/internal/core/oplog"
	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/data/db"
)

// OpLogStore implements oplog.Store on the pending_ops table. The table's
// AUTOINCREMENT key supplies the replay sequence, so sequence numbers are
// never reused even after the log empties.
type OpLogStore struct {
	db *db.DB
}

var _ oplog.Store = (*OpLogStore)(nil)

// NewOpLogStore creates a new SQLite-backed pending operation log.
func NewOpLogStore(db *db.DB) *OpLogStore {
	return &OpLogStore{db: db}
}

// Append persists e and assigns e.Seq.
func (s *OpLogStore) Append(ctx context.Context, e *oplog.Entry) error {
	var payload []byte
	if e.Payload != nil {
		var err error
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
	}

	seq, err := s.db.Queries().InsertPendingOp(ctx, db.InsertPendingOpParams{
		ID:         e.ID,
		Op:         string(e.Op),
		ClientID:   e.ClientID,
		Payload:    payload,
		EnqueuedAt: e.EnqueuedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}

	e.Seq = seq
	return nil
}

// Head returns the oldest entry, or oplog.ErrEmpty.
func (s *OpLogStore) Head(ctx context.Context) (oplog.Entry, error) {
	row, err := s.db.Queries().FirstPendingOp(ctx)
	if IsNotFoundError(err) {
		return oplog.Entry{}, oplog.ErrEmpty
	}
	if err != nil {
		return oplog.Entry{}, fmt.Errorf("failed to read head: %w", err)
	}
	return rowToEntry(row)
}

// List returns every entry in replay order.
func (s *OpLogStore) List(ctx context.Context) ([]oplog.Entry, error) {
	rows, err := s.db.Queries().ListPendingOps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]oplog.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := rowToEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Delete removes an entry. Returns oplog.ErrNotFound if missing.
func (s *OpLogStore) Delete(ctx context.Context, id string) error {
	n, err := s.db.Queries().DeletePendingOp(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	if n == 0 {
		return oplog.ErrNotFound
	}
	return nil
}

// RecordFailure bumps the attempt counter of an entry.
func (s *OpLogStore) RecordFailure(ctx context.Context, id string, msg string) error {
	n, err := s.db.Queries().RecordPendingOpFailure(ctx, id, msg)
	if err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", id, err)
	}
	if n == 0 {
		return oplog.ErrNotFound
	}
	return nil
}

// Len returns the number of entries.
func (s *OpLogStore) Len(ctx context.Context) (int64, error) {
	n, err := s.db.Queries().CountPendingOps(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// CountForClient returns the number of entries for clientID.
func (s *OpLogStore) CountForClient(ctx context.Context, clientID string) (int64, error) {
	n, err := s.db.Queries().CountPendingOpsForClient(ctx, clientID)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries for %s: %w", clientID, err)
	}
	return n, nil
}

func rowToEntry(row db.PendingOp) (oplog.Entry, error) {
	e := oplog.Entry{
		Seq:        row.Seq,
		ID:         row.ID,
		Op:         oplog.Op(row.Op),
		ClientID:   row.ClientID,
		EnqueuedAt: time.Unix(0, row.EnqueuedAt),
		Attempts:   int(row.Attempts),
		LastError:  row.LastError,
	}

	if len(row.Payload) > 0 {
		var t task.Task
		if err := json.Unmarshal(row.Payload, &t); err != nil {
			return oplog.Entry{}, fmt.Errorf("failed to decode payload of %s: %w", row.ID, err)
		}
		e.Payload = &t
	}

	return e, nil
}
