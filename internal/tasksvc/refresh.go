package tasksvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/colonyops/tasksync/internal/core/task"
)

// RefreshResult counts what a refresh changed locally.
type RefreshResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Kept    int `json:"kept"` // local changes not yet confirmed, left alone
}

// Refresh replaces the local view with the server's task list. Tasks with
// unconfirmed local changes keep their local state. Confirmed tasks the
// server no longer lists are removed.
func (s *Service) Refresh(ctx context.Context) (RefreshResult, error) {
	remote, err := s.api.ListTasks(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("fetch tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res RefreshResult
	seen := make(map[string]bool, len(remote))

	for _, r := range remote {
		seen[r.ID] = true

		local, err := s.localFor(ctx, r)
		if err != nil {
			return res, err
		}

		if local == nil {
			added := r
			added.ClientID = uuid.NewString()
			added.SyncState = task.SyncConfirmed
			added.UpdatedAt = s.now()
			if added.CreatedAt.IsZero() {
				added.CreatedAt = added.UpdatedAt
			}
			if err := s.ids.Set(ctx, added.ClientID, added.ID); err != nil {
				return res, err
			}
			if err := s.records.Put(ctx, added); err != nil {
				return res, fmt.Errorf("store fetched task %s: %w", r.ID, err)
			}
			res.Added++
			continue
		}

		dirty, err := s.dirty(ctx, *local)
		if err != nil {
			return res, err
		}
		if dirty {
			res.Kept++
			continue
		}

		next := *local
		next.ID = r.ID
		next.Title = r.Title
		next.Description = r.Description
		next.Status = r.Status
		next.SyncState = task.SyncConfirmed
		if next == *local {
			continue
		}
		if local.ID == "" {
			if err := s.ids.Set(ctx, local.ClientID, r.ID); err != nil {
				return res, err
			}
		}
		if err := s.records.Put(ctx, next); err != nil {
			return res, fmt.Errorf("store fetched task %s: %w", r.ID, err)
		}
		res.Updated++
	}

	all, err := s.records.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list tasks: %w", err)
	}
	for _, t := range all {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		dirty, err := s.dirty(ctx, t)
		if err != nil {
			return res, err
		}
		if dirty {
			res.Kept++
			continue
		}
		if err := s.records.Remove(ctx, t.ClientID); err != nil {
			return res, fmt.Errorf("remove task %s: %w", t.ClientID, err)
		}
		res.Removed++
	}

	if err := s.meta.Set(ctx, "last_sync", s.now()); err != nil {
		return res, fmt.Errorf("record last sync: %w", err)
	}

	s.log.Debug().
		Int("added", res.Added).
		Int("updated", res.Updated).
		Int("removed", res.Removed).
		Int("kept", res.Kept).
		Msg("refreshed from server")

	return res, nil
}

// localFor finds the local record for a fetched task: by server id, or by
// the client id the server echoes back for a create whose response was
// lost.
func (s *Service) localFor(ctx context.Context, r task.Task) (*task.Task, error) {
	t, err := s.records.FindByServerID(ctx, r.ID)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, task.ErrNotFound) {
		return nil, err
	}

	if r.ClientID == "" {
		return nil, nil
	}
	t, err = s.records.Get(ctx, r.ClientID)
	if errors.Is(err, task.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t.ID != "" && t.ID != r.ID {
		return nil, nil
	}
	return &t, nil
}

// dirty reports whether t holds local state the server has not confirmed.
func (s *Service) dirty(ctx context.Context, t task.Task) (bool, error) {
	if t.SyncState != task.SyncConfirmed || t.Deleted {
		return true, nil
	}
	return s.queue.Pending(ctx, t.ClientID)
}
