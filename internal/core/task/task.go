// Package task defines the task record domain model and the contract for
// its local durable storage.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a task record does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrInvalid is returned when a task fails validation.
	ErrInvalid = errors.New("invalid task")
)

// Status represents the workflow state of a task.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus normalizes a user or wire supplied status label. It accepts the
// canonical names in any case, common separators ("in-progress",
// "in_progress", "in progress") and the legacy Spanish labels still emitted
// by older servers.
func ParseStatus(s string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)

	switch key {
	case "pending", "pendiente", "todo":
		return StatusPending, nil
	case "inprogress", "enprogreso", "doing":
		return StatusInProgress, nil
	case "completed", "completada", "done":
		return StatusCompleted, nil
	}

	return "", fmt.Errorf("%w: unknown status %q", ErrInvalid, s)
}

// SyncState records whether the server has confirmed the latest local state
// of a task. It is written by the reconciliation driver.
type SyncState string

const (
	// SyncConfirmed means the server holds the record as stored locally.
	SyncConfirmed SyncState = "confirmed"
	// SyncPending means local changes are waiting for server confirmation.
	SyncPending SyncState = "pending"
	// SyncRejected means the server permanently refused the record's creation.
	SyncRejected SyncState = "rejected"
)

// Task is a single task record.
//
// ClientID is generated on the client when the task is created and never
// changes. ID is the server-assigned identifier; it is empty until the
// creation is confirmed and is set exactly once.
type Task struct {
	ClientID    string    `json:"clientId"`
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Deleted     bool      `json:"deleted,omitempty"`
	SyncState   SyncState `json:"syncState"`
}

// EffectiveID returns the server identifier when known and the temporary
// client identifier otherwise.
func (t Task) EffectiveID() string {
	if t.ID != "" {
		return t.ID
	}
	return t.ClientID
}

// Confirmed reports whether the server has assigned an identifier.
func (t Task) Confirmed() bool {
	return t.ID != ""
}

// Validate checks the fields a task must carry before it is stored.
func (t Task) Validate() error {
	if t.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalid)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalid)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, t.Status)
	}
	return nil
}

// Input holds the user supplied fields for a new task.
type Input struct {
	Title       string
	Description string
	Status      Status
}

// Patch describes a partial update. Nil fields are left unchanged.
type Patch struct {
	Title       *string
	Description *string
	Status      *Status
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil
}

// Apply returns a copy of t with the patch applied.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	return t
}
