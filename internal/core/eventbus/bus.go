package eventbus

import (
	"context"
	"sync"
)

type envelope struct {
	event   Event
	payload any
}

// EventBus delivers published events to subscribers on a single dispatch
// goroutine started by Start. Publishing never blocks: when the buffer is
// full the event is dropped and the OnDrop hooks fire.
//
// A nil *EventBus is valid and discards everything published to it.
type EventBus struct {
	ch    chan envelope
	hooks hooks

	mu   sync.RWMutex
	subs map[Event][]func(any)
}

// New creates a bus with the given buffer size.
func New(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{
		ch:   make(chan envelope, buffer),
		subs: make(map[Event][]func(any)),
	}
}

// Start dispatches events until ctx is cancelled.
func (bus *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-bus.ch:
			bus.dispatch(env)
		}
	}
}

func (bus *EventBus) dispatch(env envelope) {
	bus.mu.RLock()
	handlers := make([]func(any), len(bus.subs[env.event]))
	copy(handlers, bus.subs[env.event])
	bus.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					bus.runOnPanic(env.event, env.payload, r)
				}
			}()
			fn(env.payload)
		}()
	}
}

func (bus *EventBus) subscribe(event Event, fn func(any)) {
	if bus == nil {
		return
	}
	bus.mu.Lock()
	bus.subs[event] = append(bus.subs[event], fn)
	bus.mu.Unlock()
	bus.runOnSubscribe(event)
}

// PublishSyncCompleted publishes EventSyncCompleted.
func (bus *EventBus) PublishSyncCompleted(p SyncCompletedPayload) {
	bus.send(EventSyncCompleted, p)
}

// SubscribeSyncCompleted registers fn for EventSyncCompleted.
func (bus *EventBus) SubscribeSyncCompleted(fn func(SyncCompletedPayload)) {
	bus.subscribe(EventSyncCompleted, func(p any) { fn(p.(SyncCompletedPayload)) })
}

// PublishSyncOpFailed publishes EventSyncOpFailed.
func (bus *EventBus) PublishSyncOpFailed(p SyncOpFailedPayload) {
	bus.send(EventSyncOpFailed, p)
}

// SubscribeSyncOpFailed registers fn for EventSyncOpFailed.
func (bus *EventBus) SubscribeSyncOpFailed(fn func(SyncOpFailedPayload)) {
	bus.subscribe(EventSyncOpFailed, func(p any) { fn(p.(SyncOpFailedPayload)) })
}

// PublishSyncAnomaly publishes EventSyncAnomaly.
func (bus *EventBus) PublishSyncAnomaly(p SyncAnomalyPayload) {
	bus.send(EventSyncAnomaly, p)
}

// SubscribeSyncAnomaly registers fn for EventSyncAnomaly.
func (bus *EventBus) SubscribeSyncAnomaly(fn func(SyncAnomalyPayload)) {
	bus.subscribe(EventSyncAnomaly, func(p any) { fn(p.(SyncAnomalyPayload)) })
}

// PublishNetworkChanged publishes EventNetworkChanged.
func (bus *EventBus) PublishNetworkChanged(p NetworkChangedPayload) {
	bus.send(EventNetworkChanged, p)
}

// SubscribeNetworkChanged registers fn for EventNetworkChanged.
func (bus *EventBus) SubscribeNetworkChanged(fn func(NetworkChangedPayload)) {
	bus.subscribe(EventNetworkChanged, func(p any) { fn(p.(NetworkChangedPayload)) })
}

// PublishTaskRemapped publishes EventTaskRemapped.
func (bus *EventBus) PublishTaskRemapped(p TaskRemappedPayload) {
	bus.send(EventTaskRemapped, p)
}

// SubscribeTaskRemapped registers fn for EventTaskRemapped.
func (bus *EventBus) SubscribeTaskRemapped(fn func(TaskRemappedPayload)) {
	bus.subscribe(EventTaskRemapped, func(p any) { fn(p.(TaskRemappedPayload)) })
}

// PublishNotificationPublished publishes EventNotificationPublished.
func (bus *EventBus) PublishNotificationPublished(p NotificationPublishedPayload) {
	bus.send(EventNotificationPublished, p)
}

// SubscribeNotificationPublished registers fn for EventNotificationPublished.
func (bus *EventBus) SubscribeNotificationPublished(fn func(NotificationPublishedPayload)) {
	bus.subscribe(EventNotificationPublished, func(p any) { fn(p.(NotificationPublishedPayload)) })
}
