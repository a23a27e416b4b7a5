package eventbus_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/tasksync/internal/core/eventbus"
	"github.com/colonyops/tasksync/internal/core/eventbus/testbus"
	"github.com/colonyops/tasksync/internal/core/oplog"
)

func latestNotificationPayload(tb *testbus.Bus, t *testing.T) eventbus.NotificationPublishedPayload {
	t.Helper()
	tb.AssertPublished(t, eventbus.EventNotificationPublished)

	all := tb.Of(eventbus.EventNotificationPublished)
	require.NotEmpty(t, all)
	p, ok := all[len(all)-1].(eventbus.NotificationPublishedPayload)
	require.True(t, ok)
	return p
}

func TestNotificationRouter_SyncCompleted(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishSyncCompleted(eventbus.SyncCompletedPayload{Applied: 3, Dropped: 1})
	p := latestNotificationPayload(tb, t)

	assert.Equal(t, eventbus.LevelInfo, p.Level)
	assert.Contains(t, p.Message, "3 applied")
	assert.Contains(t, p.Message, "1 rejected")
}

func TestNotificationRouter_EmptySyncCompleted_doesNotPublish(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishSyncCompleted(eventbus.SyncCompletedPayload{})
	tb.AssertNotPublished(t, eventbus.EventNotificationPublished, 100*time.Millisecond)
}

func TestNotificationRouter_SyncOpFailed(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishSyncOpFailed(eventbus.SyncOpFailedPayload{
		Entry: oplog.Entry{Op: oplog.OpCreate, ClientID: "c-42"},
		Err:   errors.New("400 Bad Request"),
	})
	p := latestNotificationPayload(tb, t)

	assert.Equal(t, eventbus.LevelError, p.Level)
	assert.Contains(t, p.Message, "c-42")
	assert.Contains(t, p.Message, "400 Bad Request")
}

func TestNotificationRouter_SyncAnomaly(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishSyncAnomaly(eventbus.SyncAnomalyPayload{
		Entry: oplog.Entry{Op: oplog.OpUpdate, ClientID: "c-7"},
		Err:   errors.New("no server id"),
	})
	p := latestNotificationPayload(tb, t)

	assert.Equal(t, eventbus.LevelWarning, p.Level)
	assert.Contains(t, p.Message, "c-7")
}

func TestNotificationRouter_NetworkChanged(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishNetworkChanged(eventbus.NetworkChangedPayload{Reachable: false})
	p := latestNotificationPayload(tb, t)
	assert.Equal(t, eventbus.LevelWarning, p.Level)

	tb.Reset()
	tb.PublishNetworkChanged(eventbus.NetworkChangedPayload{Reachable: true})
	p = latestNotificationPayload(tb, t)
	assert.Equal(t, eventbus.LevelInfo, p.Level)
}

func TestNotificationRouter_TaskRemapped_doesNotPublish(t *testing.T) {
	tb := testbus.New(t)
	eventbus.NewNotificationRouter(tb.EventBus).Register()

	tb.PublishTaskRemapped(eventbus.TaskRemappedPayload{ClientID: "c1", ServerID: "s1"})
	tb.AssertNotPublished(t, eventbus.EventNotificationPublished, 100*time.Millisecond)
}
