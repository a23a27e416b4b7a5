package task

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// View selects a subset of tasks by completion.
type View string

const (
	ViewAll       View = "all"
	ViewActive    View = "active"
	ViewCompleted View = "completed"
)

// IsValid reports whether v is a known view. The empty view means all.
func (v View) IsValid() bool {
	switch v {
	case "", ViewAll, ViewActive, ViewCompleted:
		return true
	}
	return false
}

// Filter narrows a task listing. Tombstoned records are always excluded.
type Filter struct {
	Search string // case-insensitive substring of title or description
	View   View
	Match  string // doublestar glob matched against the title
}

// Validate checks that the view is known and the glob compiles.
func (f Filter) Validate() error {
	if !f.View.IsValid() {
		return fmt.Errorf("%w: unknown view %q", ErrInvalid, f.View)
	}
	if f.Match != "" && !doublestar.ValidatePattern(f.Match) {
		return fmt.Errorf("%w: bad match pattern %q", ErrInvalid, f.Match)
	}
	return nil
}

// Apply returns the tasks that pass the filter, preserving order.
func (f Filter) Apply(tasks []Task) []Task {
	search := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Deleted {
			continue
		}

		switch f.View {
		case ViewActive:
			if t.Status == StatusCompleted {
				continue
			}
		case ViewCompleted:
			if t.Status != StatusCompleted {
				continue
			}
		}

		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}

		if f.Match != "" {
			ok, err := doublestar.Match(f.Match, t.Title)
			if err != nil || !ok {
				continue
			}
		}

		out = append(out, t)
	}

	return out
}

// Stats counts visible tasks by status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Unsynced   int `json:"unsynced"`
}

// Summarize computes Stats over the non-tombstoned tasks.
func Summarize(tasks []Task) Stats {
	var s Stats
	for _, t := range tasks {
		if t.Deleted {
			continue
		}
		s.Total++
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		}
		if t.SyncState != SyncConfirmed {
			s.Unsynced++
		}
	}
	return s
}
