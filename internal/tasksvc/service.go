// Package tasksvc is the entry point the presentation layer uses to read and
// change tasks. Every mutation is applied to the local replica first and
// handed to the reconciliation driver afterwards.
package tasksvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/tasksync/internal/core/identity"
	"github.com/colonyops/tasksync/internal/core/kv"
	"github.com/colonyops/tasksync/internal/core/oplog"
	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/reconcile"
	"github.com/colonyops/tasksync/internal/remote"
)

// ErrAmbiguous is returned when a short reference matches several tasks.
var ErrAmbiguous = errors.New("task reference is ambiguous")

// minPrefix is the shortest id prefix Get accepts.
const minPrefix = 4

// Submitter accepts mutations after the optimistic write.
type Submitter interface {
	Submit(ctx context.Context, m reconcile.Mutation) error
	Drain(ctx context.Context) (oplog.DrainReport, error)
}

// Service is the Task Service Facade.
type Service struct {
	records task.Store
	queue   *oplog.Queue
	ids     *identity.Map
	driver  Submitter
	api     remote.API
	meta    *kv.TypedKV[time.Time]
	log     zerolog.Logger
	now     func() time.Time

	// mu keeps optimistic writes and their submission in the same order.
	mu sync.Mutex
}

// New creates a Service.
func New(
	records task.Store,
	queue *oplog.Queue,
	ids *identity.Map,
	driver Submitter,
	api remote.API,
	store kv.KV,
	log zerolog.Logger,
) *Service {
	return &Service{
		records: records,
		queue:   queue,
		ids:     ids,
		driver:  driver,
		api:     api,
		meta:    kv.Scoped[time.Time](store, "meta"),
		log:     log,
		now:     time.Now,
	}
}

// Create stores a new task and schedules its creation on the server. The
// returned task is readable immediately.
func (s *Service) Create(ctx context.Context, in task.Input) (task.Task, error) {
	status := in.Status
	if status == "" {
		status = task.StatusPending
	}

	now := s.now()
	t := task.Task{
		ClientID:    uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
		SyncState:   task.SyncPending,
	}
	if err := t.Validate(); err != nil {
		return task.Task{}, err
	}

	if err := s.commit(ctx, oplog.OpCreate, t); err != nil {
		return task.Task{}, err
	}
	return s.reload(ctx, t)
}

// Update applies p to the task ref names.
func (s *Service) Update(ctx context.Context, ref string, p task.Patch) (task.Task, error) {
	t, err := s.Get(ctx, ref)
	if err != nil {
		return task.Task{}, err
	}
	if p.IsEmpty() {
		return t, nil
	}

	next := p.Apply(t)
	if err := next.Validate(); err != nil {
		return task.Task{}, err
	}
	next.UpdatedAt = s.now()
	if next.SyncState != task.SyncRejected {
		next.SyncState = task.SyncPending
	}

	if err := s.commit(ctx, oplog.OpUpdate, next); err != nil {
		return task.Task{}, err
	}
	return s.reload(ctx, next)
}

// Remove tombstones the task ref names. It disappears from listings at once
// and is physically removed when the server confirms the delete.
func (s *Service) Remove(ctx context.Context, ref string) error {
	t, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}

	t.Deleted = true
	t.UpdatedAt = s.now()
	if t.SyncState != task.SyncRejected {
		t.SyncState = task.SyncPending
	}

	return s.commit(ctx, oplog.OpDelete, t)
}

func (s *Service) commit(ctx context.Context, op oplog.Op, t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.records.Put(ctx, t); err != nil {
		return fmt.Errorf("%s %s: %w", op, t.ClientID, err)
	}
	if err := s.driver.Submit(ctx, reconcile.Mutation{Op: op, Task: t}); err != nil {
		return fmt.Errorf("submit %s %s: %w", op, t.ClientID, err)
	}
	return nil
}

// reload returns the stored record, which the driver may already have
// confirmed. It falls back to t if the record is gone.
func (s *Service) reload(ctx context.Context, t task.Task) (task.Task, error) {
	got, err := s.records.Get(ctx, t.ClientID)
	if errors.Is(err, task.ErrNotFound) {
		return t, nil
	}
	return got, err
}

// Get resolves ref as a client id, a server id, or a unique prefix of
// either. Tombstoned tasks are not found.
func (s *Service) Get(ctx context.Context, ref string) (task.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return task.Task{}, fmt.Errorf("%w: empty reference", task.ErrNotFound)
	}

	t, err := s.records.Get(ctx, ref)
	if err == nil {
		return visible(t, ref)
	}
	if !errors.Is(err, task.ErrNotFound) {
		return task.Task{}, err
	}

	t, err = s.records.FindByServerID(ctx, ref)
	if err == nil {
		return visible(t, ref)
	}
	if !errors.Is(err, task.ErrNotFound) {
		return task.Task{}, err
	}

	if len(ref) < minPrefix {
		return task.Task{}, fmt.Errorf("%w: %s", task.ErrNotFound, ref)
	}

	all, err := s.records.List(ctx)
	if err != nil {
		return task.Task{}, err
	}

	var matches []task.Task
	for _, t := range all {
		if t.Deleted {
			continue
		}
		if strings.HasPrefix(t.ClientID, ref) || (t.ID != "" && strings.HasPrefix(t.ID, ref)) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return task.Task{}, fmt.Errorf("%w: %s", task.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	}
	return task.Task{}, fmt.Errorf("%w: %s matches %d tasks", ErrAmbiguous, ref, len(matches))
}

func visible(t task.Task, ref string) (task.Task, error) {
	if t.Deleted {
		return task.Task{}, fmt.Errorf("%w: %s", task.ErrNotFound, ref)
	}
	return t, nil
}

// List returns the tasks passing f, newest first, without tombstones.
func (s *Service) List(ctx context.Context, f task.Filter) ([]task.Task, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	all, err := s.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return f.Apply(all), nil
}

// Stats counts visible tasks by status.
func (s *Service) Stats(ctx context.Context) (task.Stats, error) {
	all, err := s.records.List(ctx)
	if err != nil {
		return task.Stats{}, fmt.Errorf("list tasks: %w", err)
	}
	return task.Summarize(all), nil
}

// SyncPending reports whether the task still has operations waiting for the
// server.
func (s *Service) SyncPending(ctx context.Context, clientID string) (bool, error) {
	return s.queue.Pending(ctx, clientID)
}

// Queue returns the pending operations in replay order.
func (s *Service) Queue(ctx context.Context) ([]oplog.Entry, error) {
	return s.queue.List(ctx)
}

// SyncResult summarizes an explicit sync.
type SyncResult struct {
	Drain   oplog.DrainReport
	Refresh *RefreshResult // nil when the refresh was skipped
}

// Sync drains the log and, when it empties, refetches the task list.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	rep, err := s.driver.Drain(ctx)
	if err != nil {
		return SyncResult{Drain: rep}, fmt.Errorf("drain: %w", err)
	}

	res := SyncResult{Drain: rep}
	if !rep.Completed() {
		return res, nil
	}

	refreshed, err := s.Refresh(ctx)
	if err != nil {
		return res, err
	}
	res.Refresh = &refreshed
	return res, nil
}

// LastSync returns when Refresh last completed.
func (s *Service) LastSync(ctx context.Context) (time.Time, bool, error) {
	at, err := s.meta.Get(ctx, "last_sync")
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}
