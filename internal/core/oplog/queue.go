package oplog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/tasksync/internal/core/task"
)

// ApplyFunc replays a single entry against the server.
type ApplyFunc func(ctx context.Context, e Entry) Result

// Failure describes an entry that was dropped or stopped a drain.
type Failure struct {
	Entry   Entry
	Outcome Outcome
	Err     error
}

// DrainReport summarizes one or more drain passes.
type DrainReport struct {
	Applied   int
	Dropped   []Failure
	Stopped   *Failure // entry that halted the pass, if any
	Remaining int64
	Passes    int
	Offline   bool // the pass was skipped because the server is unreachable
	Coalesced bool // another drain was running here or in another process
}

// Completed reports whether the log was left empty.
func (r DrainReport) Completed() bool {
	return !r.Offline && !r.Coalesced && r.Stopped == nil && r.Remaining == 0
}

// Merge folds a later pass into r.
func (r *DrainReport) Merge(next DrainReport) {
	r.Applied += next.Applied
	r.Dropped = append(r.Dropped, next.Dropped...)
	r.Stopped = next.Stopped
	r.Remaining = next.Remaining
	r.Passes += next.Passes
	r.Offline = next.Offline
	r.Coalesced = next.Coalesced
}

// Queue is the Pending-Operation Log. It is safe for use by one drainer and
// any number of enqueuers; ordering is delegated to the Store's sequence.
type Queue struct {
	store Store
	now   func() time.Time
}

// NewQueue wraps a Store.
func NewQueue(store Store) *Queue {
	return &Queue{store: store, now: time.Now}
}

// Enqueue appends an entry. ID and EnqueuedAt are filled when empty. The
// entry is durable when Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	if !e.Op.IsValid() {
		return Entry{}, fmt.Errorf("enqueue: unknown op %q", e.Op)
	}
	if e.ClientID == "" {
		return Entry{}, fmt.Errorf("enqueue %s: client id is required", e.Op)
	}
	if e.Op != OpDelete && e.Payload == nil {
		return Entry{}, fmt.Errorf("enqueue %s %s: payload is required", e.Op, e.ClientID)
	}
	if e.Op == OpDelete {
		e.Payload = nil
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = q.now()
	}

	if err := q.store.Append(ctx, &e); err != nil {
		return Entry{}, fmt.Errorf("enqueue %s %s: %w", e.Op, e.ClientID, err)
	}

	return e, nil
}

// EnqueueTask is a convenience for Enqueue that snapshots t.
func (q *Queue) EnqueueTask(ctx context.Context, op Op, t task.Task) (Entry, error) {
	e := Entry{Op: op, ClientID: t.ClientID}
	if op != OpDelete {
		snapshot := t
		e.Payload = &snapshot
	}
	return q.Enqueue(ctx, e)
}

// Pending reports whether any entry references clientID.
func (q *Queue) Pending(ctx context.Context, clientID string) (bool, error) {
	n, err := q.store.CountForClient(ctx, clientID)
	if err != nil {
		return false, fmt.Errorf("count pending for %s: %w", clientID, err)
	}
	return n > 0, nil
}

// CountForClient returns how many entries reference clientID.
func (q *Queue) CountForClient(ctx context.Context, clientID string) (int64, error) {
	return q.store.CountForClient(ctx, clientID)
}

// List returns all entries in replay order.
func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	return q.store.List(ctx)
}

// Len returns the number of entries waiting.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.store.Len(ctx)
}

// Drain replays entries front to back until the log is empty or an entry
// stops the pass. Entries appended while the pass runs are replayed in the
// same pass. Drain does not guard against concurrent callers; the
// reconciliation driver serializes passes.
func (q *Queue) Drain(ctx context.Context, apply ApplyFunc) (DrainReport, error) {
	report := DrainReport{Passes: 1}

	for {
		head, err := q.store.Head(ctx)
		if errors.Is(err, ErrEmpty) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("read log head: %w", err)
		}

		res := apply(ctx, head)

		switch res.Outcome {
		case OK:
			if err := q.store.Delete(ctx, head.ID); err != nil {
				return report, fmt.Errorf("remove applied entry %s: %w", head.ID, err)
			}
			report.Applied++
			continue

		case Fatal:
			if err := q.store.Delete(ctx, head.ID); err != nil {
				return report, fmt.Errorf("remove failed entry %s: %w", head.ID, err)
			}
			report.Dropped = append(report.Dropped, Failure{Entry: head, Outcome: Fatal, Err: res.Err})
			continue

		case Retryable, Anomaly:
			if err := q.store.RecordFailure(ctx, head.ID, errString(res.Err)); err != nil {
				return report, fmt.Errorf("record failure for %s: %w", head.ID, err)
			}
			head.Attempts++
			head.LastError = errString(res.Err)
			report.Stopped = &Failure{Entry: head, Outcome: res.Outcome, Err: res.Err}

		case Abort:
			report.Stopped = &Failure{Entry: head, Outcome: Abort, Err: res.Err}
			return report, fmt.Errorf("apply entry %s: %w", head.ID, res.Err)

		default:
			return report, fmt.Errorf("apply entry %s: unknown outcome %d", head.ID, res.Outcome)
		}

		break
	}

	remaining, err := q.store.Len(ctx)
	if err != nil {
		return report, fmt.Errorf("count remaining entries: %w", err)
	}
	report.Remaining = remaining

	return report, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
