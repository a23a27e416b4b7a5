package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/data/db"
)

// TaskStore implements task.Store using SQLite.
type TaskStore struct {
	db *db.DB
}

var _ task.Store = (*TaskStore)(nil)

// NewTaskStore creates a new SQLite-backed task store.
func NewTaskStore(db *db.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Put creates or overwrites the record with the same client id.
func (s *TaskStore) Put(ctx context.Context, t task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	err := s.db.Queries().UpsertTask(ctx, taskToRow(t))
	if IsConstraintError(err) {
		return fmt.Errorf("%w: server id %q already belongs to another task", task.ErrInvalid, t.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ClientID, err)
	}
	return nil
}

// Get returns a record by client id. Returns task.ErrNotFound if missing.
func (s *TaskStore) Get(ctx context.Context, clientID string) (task.Task, error) {
	row, err := s.db.Queries().GetTask(ctx, clientID)
	if IsNotFoundError(err) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to get task %s: %w", clientID, err)
	}
	return rowToTask(row), nil
}

// FindByServerID returns the record carrying serverID.
func (s *TaskStore) FindByServerID(ctx context.Context, serverID string) (task.Task, error) {
	if serverID == "" {
		return task.Task{}, task.ErrNotFound
	}

	row, err := s.db.Queries().GetTaskByServerID(ctx, serverID)
	if IsNotFoundError(err) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to find task by server id %s: %w", serverID, err)
	}
	return rowToTask(row), nil
}

// Remove deletes a record. Missing records are ignored.
func (s *TaskStore) Remove(ctx context.Context, clientID string) error {
	if err := s.db.Queries().DeleteTask(ctx, clientID); err != nil {
		return fmt.Errorf("failed to remove task %s: %w", clientID, err)
	}
	return nil
}

// List returns every record, newest first.
func (s *TaskStore) List(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.Queries().ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]task.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, rowToTask(row))
	}
	return tasks, nil
}

// PurgeTombstones removes deleted records older than before that no pending
// operation still references.
func (s *TaskStore) PurgeTombstones(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.db.Queries().PurgeDeletedTasks(ctx, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	return n, nil
}

func taskToRow(t task.Task) db.Task {
	return db.Task{
		ClientID:    t.ClientID,
		ServerID:    sql.NullString{String: t.ID, Valid: t.ID != ""},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		SyncState:   string(t.SyncState),
		Deleted:     t.Deleted,
		CreatedAt:   t.CreatedAt.UnixNano(),
		UpdatedAt:   t.UpdatedAt.UnixNano(),
	}
}

func rowToTask(row db.Task) task.Task {
	state := task.SyncState(row.SyncState)
	if state == "" {
		state = task.SyncPending
	}

	return task.Task{
		ClientID:    row.ClientID,
		ID:          row.ServerID.String,
		Title:       row.Title,
		Description: row.Description,
		Status:      task.Status(row.Status),
		CreatedAt:   time.Unix(0, row.CreatedAt),
		UpdatedAt:   time.Unix(0, row.UpdatedAt),
		Deleted:     row.Deleted,
		SyncState:   state,
	}
}
