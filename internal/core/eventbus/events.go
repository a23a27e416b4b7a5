// Package eventbus provides a typed publish/subscribe event bus for
// cross-component communication within tasksync.
package eventbus

import (
	"github.com/colonyops/tasksync/internal/core/oplog"
)

// Event names a topic on the bus.
type Event string

// Keep list sorted A-Z
const (
	EventNetworkChanged        Event = "network.changed"
	EventNotificationPublished Event = "notification.published"
	EventSyncAnomaly           Event = "sync.anomaly"
	EventSyncCompleted         Event = "sync.completed"
	EventSyncOpFailed          Event = "sync.op-failed"
	EventTaskRemapped          Event = "task.remapped"
)

// Events lists every event with a zero payload, for tooling and tests.
var Events = map[Event]any{
	EventNetworkChanged:        NetworkChangedPayload{},
	EventNotificationPublished: NotificationPublishedPayload{},
	EventSyncAnomaly:           SyncAnomalyPayload{},
	EventSyncCompleted:         SyncCompletedPayload{},
	EventSyncOpFailed:          SyncOpFailedPayload{},
	EventTaskRemapped:          TaskRemappedPayload{},
}

// SyncCompletedPayload is emitted when a drain leaves the pending log empty.
type SyncCompletedPayload struct {
	Applied int
	Dropped int
	Passes  int
}

// SyncOpFailedPayload is emitted when the server permanently rejects an
// operation, or when a direct attempt fails with a permanent error.
type SyncOpFailedPayload struct {
	Entry oplog.Entry
	Err   error
}

// SyncAnomalyPayload is emitted when an entry cannot be replayed because its
// task has no resolvable server id, or a retried entry stopped a drain.
type SyncAnomalyPayload struct {
	Entry   oplog.Entry
	Outcome oplog.Outcome
	Err     error
}

// NetworkChangedPayload is emitted when the committed reachability flips.
type NetworkChangedPayload struct {
	Reachable bool
}

// TaskRemappedPayload is emitted when a created task receives its server id.
type TaskRemappedPayload struct {
	ClientID string
	ServerID string
}

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// NotificationPublishedPayload is a user-facing message derived from a
// domain event.
type NotificationPublishedPayload struct {
	Level   Level
	Message string
}
