package eventbus

import (
	"fmt"
)

// NotificationRouter maps sync events to user-facing notifications.
type NotificationRouter struct {
	bus *EventBus
}

// NewNotificationRouter constructs a router for event-to-notification mappings.
func NewNotificationRouter(bus *EventBus) *NotificationRouter {
	return &NotificationRouter{bus: bus}
}

// Register subscribes all supported event mappings.
func (r *NotificationRouter) Register() {
	if r == nil || r.bus == nil {
		return
	}

	r.bus.SubscribeSyncCompleted(func(p SyncCompletedPayload) {
		if p.Applied == 0 && p.Dropped == 0 {
			return
		}
		r.notifyf(LevelInfo, "sync complete: %d applied, %d rejected", p.Applied, p.Dropped)
	})

	r.bus.SubscribeSyncOpFailed(func(p SyncOpFailedPayload) {
		r.notifyf(LevelError, "server rejected %s of task %s: %v", p.Entry.Op, p.Entry.ClientID, p.Err)
	})

	r.bus.SubscribeSyncAnomaly(func(p SyncAnomalyPayload) {
		r.notifyf(LevelWarning, "%s of task %s is waiting: %v", p.Entry.Op, p.Entry.ClientID, p.Err)
	})

	r.bus.SubscribeNetworkChanged(func(p NetworkChangedPayload) {
		if p.Reachable {
			r.notifyf(LevelInfo, "server reachable")
			return
		}
		r.notifyf(LevelWarning, "server unreachable, working offline")
	})
}

func (r *NotificationRouter) notifyf(level Level, format string, args ...any) {
	r.bus.PublishNotificationPublished(NotificationPublishedPayload{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}
