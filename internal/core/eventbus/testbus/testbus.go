// Package testbus provides test utilities for the event bus.
// It wraps a real EventBus with event recording and assertion helpers.
package testbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/colonyops/tasksync/internal/core/eventbus"
)

// RecordedEvent holds a captured event name and payload.
type RecordedEvent struct {
	Event   eventbus.Event
	Payload any
}

// Bus wraps a real EventBus with event recording for tests.
type Bus struct {
	*eventbus.EventBus

	mu     sync.Mutex
	events []RecordedEvent
}

// New creates a started test bus that records every event type. The bus
// stops when the test completes.
func New(t *testing.T) *Bus {
	t.Helper()

	bus := eventbus.New(256)
	ctx, cancel := context.WithCancel(context.Background())
	tb := &Bus{EventBus: bus}

	bus.SubscribeSyncCompleted(func(p eventbus.SyncCompletedPayload) {
		tb.record(eventbus.EventSyncCompleted, p)
	})
	bus.SubscribeSyncOpFailed(func(p eventbus.SyncOpFailedPayload) {
		tb.record(eventbus.EventSyncOpFailed, p)
	})
	bus.SubscribeSyncAnomaly(func(p eventbus.SyncAnomalyPayload) {
		tb.record(eventbus.EventSyncAnomaly, p)
	})
	bus.SubscribeNetworkChanged(func(p eventbus.NetworkChangedPayload) {
		tb.record(eventbus.EventNetworkChanged, p)
	})
	bus.SubscribeTaskRemapped(func(p eventbus.TaskRemappedPayload) {
		tb.record(eventbus.EventTaskRemapped, p)
	})
	bus.SubscribeNotificationPublished(func(p eventbus.NotificationPublishedPayload) {
		tb.record(eventbus.EventNotificationPublished, p)
	})

	go bus.Start(ctx)
	t.Cleanup(cancel)

	return tb
}

func (tb *Bus) record(event eventbus.Event, payload any) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.events = append(tb.events, RecordedEvent{Event: event, Payload: payload})
}

// Events returns a copy of all recorded events.
func (tb *Bus) Events() []RecordedEvent {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]RecordedEvent, len(tb.events))
	copy(out, tb.events)
	return out
}

// Of returns the payloads recorded for event, oldest first.
func (tb *Bus) Of(event eventbus.Event) []any {
	var out []any
	for _, e := range tb.Events() {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Count returns how many times event was recorded.
func (tb *Bus) Count(event eventbus.Event) int {
	return len(tb.Of(event))
}

// Reset clears all recorded events.
func (tb *Bus) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.events = nil
}

// WaitFor blocks until event has been recorded at least n times or the
// timeout expires.
func (tb *Bus) WaitFor(event eventbus.Event, n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if tb.Count(event) >= n {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
}

// AssertPublished asserts that event was recorded.
func (tb *Bus) AssertPublished(t *testing.T, event eventbus.Event) {
	t.Helper()
	if !tb.WaitFor(event, 1, time.Second) {
		t.Errorf("expected event %q to be published, but it was not", event)
	}
}

// AssertNotPublished asserts that event was not recorded within wait.
func (tb *Bus) AssertNotPublished(t *testing.T, event eventbus.Event, wait time.Duration) {
	t.Helper()
	time.Sleep(wait)
	if tb.Count(event) > 0 {
		t.Errorf("expected event %q to NOT be published, but it was", event)
	}
}
