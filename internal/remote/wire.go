package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/colonyops/tasksync/internal/core/task"
)

// UntitledTitle replaces a missing title in server responses.
const UntitledTitle = "(untitled)"

var legacyLabels = map[task.Status]string{
	task.StatusPending:    "Pendiente",
	task.StatusInProgress: "En Progreso",
	task.StatusCompleted:  "Completada",
}

// flexID accepts a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// wireTask is a task as the server sends it. Older servers use _id and
// clienteId.
type wireTask struct {
	ID          flexID     `json:"id"`
	LegacyID    flexID     `json:"_id"`
	ClientID    string     `json:"clientId"`
	ClienteID   string     `json:"clienteId"`
	Title       *string    `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Deleted     bool       `json:"deleted"`
	CreatedAt   *time.Time `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

func (w wireTask) toTask() task.Task {
	t := task.Task{
		ID:          string(w.LegacyID),
		ClientID:    w.ClientID,
		Description: w.Description,
		Status:      task.StatusPending,
		Title:       UntitledTitle,
		Deleted:     w.Deleted,
		SyncState:   task.SyncConfirmed,
	}
	if t.ID == "" {
		t.ID = string(w.ID)
	}
	if t.ClientID == "" {
		t.ClientID = w.ClienteID
	}
	if w.Title != nil && strings.TrimSpace(*w.Title) != "" {
		t.Title = strings.TrimSpace(*w.Title)
	}
	if s, err := task.ParseStatus(w.Status); err == nil {
		t.Status = s
	}
	if w.CreatedAt != nil {
		t.CreatedAt = *w.CreatedAt
	}
	if w.UpdatedAt != nil {
		t.UpdatedAt = *w.UpdatedAt
	}
	return t
}

// decodeTask accepts a bare task object or one wrapped as {"task": {...}}.
func decodeTask(body []byte) (task.Task, error) {
	var envelope struct {
		Task *wireTask `json:"task"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return task.Task{}, fmt.Errorf("decode task: %w", err)
	}
	if envelope.Task != nil {
		return envelope.Task.toTask(), nil
	}

	var w wireTask
	if err := json.Unmarshal(body, &w); err != nil {
		return task.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return w.toTask(), nil
}

// decodeTaskList accepts {"items": [...]} or a bare array. Anything else is
// an empty list.
func decodeTaskList(body []byte) ([]task.Task, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var raw []wireTask
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decode task list: %w", err)
		}
	case '{':
		var envelope struct {
			Items []wireTask `json:"items"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("decode task list: %w", err)
		}
		raw = envelope.Items
	default:
		return nil, nil
	}

	out := make([]task.Task, 0, len(raw))
	for _, w := range raw {
		t := w.toTask()
		if t.ID == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// taskBody is the request body for create and update. ClientID lets a server
// recognize a replayed create.
type taskBody struct {
	ClientID    string `json:"clientId,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func encodeTask(t task.Task, legacy bool) taskBody {
	status := string(t.Status)
	if legacy {
		if label, ok := legacyLabels[t.Status]; ok {
			status = label
		}
	}
	return taskBody{ClientID: t.ClientID, Title: t.Title, Description: t.Description, Status: status}
}
