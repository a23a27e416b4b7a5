package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/tasksync/internal/core/oplog"
	"github.com/colonyops/tasksync/internal/core/task"
)

func sampleTask(clientID string, created time.Time) task.Task {
	return task.Task{
		ClientID:  clientID,
		Title:     "Write report " + clientID,
		Status:    task.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
		SyncState: task.SyncPending,
	}
}

func TestTaskStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put and get round trip", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		now := time.Now()
		in := sampleTask("c1", now)
		in.Description = "quarterly numbers"
		require.NoError(t, store.Put(ctx, in))

		got, err := store.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ClientID)
		assert.Empty(t, got.ID)
		assert.Equal(t, in.Title, got.Title)
		assert.Equal(t, "quarterly numbers", got.Description)
		assert.Equal(t, task.StatusPending, got.Status)
		assert.Equal(t, task.SyncPending, got.SyncState)
		assert.True(t, in.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("put overwrites whole record", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		in := sampleTask("c1", time.Now())
		require.NoError(t, store.Put(ctx, in))

		in.ID = "srv-1"
		in.Status = task.StatusCompleted
		in.SyncState = task.SyncConfirmed
		require.NoError(t, store.Put(ctx, in))

		got, err := store.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "srv-1", got.ID)
		assert.Equal(t, task.StatusCompleted, got.Status)
		assert.Equal(t, task.SyncConfirmed, got.SyncState)
	})

	t.Run("get missing", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("put rejects invalid task", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		bad := sampleTask("c1", time.Now())
		bad.Title = "  "
		assert.ErrorIs(t, store.Put(ctx, bad), task.ErrInvalid)
	})

	t.Run("find by server id", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		in := sampleTask("c1", time.Now())
		in.ID = "srv-9"
		require.NoError(t, store.Put(ctx, in))

		got, err := store.FindByServerID(ctx, "srv-9")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ClientID)

		_, err = store.FindByServerID(ctx, "srv-unknown")
		require.ErrorIs(t, err, task.ErrNotFound)

		_, err = store.FindByServerID(ctx, "")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("duplicate server id is rejected", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		a := sampleTask("a", time.Now())
		a.ID = "srv-1"
		require.NoError(t, store.Put(ctx, a))

		b := sampleTask("b", time.Now())
		b.ID = "srv-1"
		assert.ErrorIs(t, store.Put(ctx, b), task.ErrInvalid)
	})

	t.Run("many unconfirmed tasks coexist", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		require.NoError(t, store.Put(ctx, sampleTask("a", time.Now())))
		require.NoError(t, store.Put(ctx, sampleTask("b", time.Now())))

		all, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("list newest first with tombstones", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		base := time.Now()
		require.NoError(t, store.Put(ctx, sampleTask("old", base.Add(-time.Hour))))
		gone := sampleTask("gone", base.Add(-time.Minute))
		gone.Deleted = true
		require.NoError(t, store.Put(ctx, gone))
		require.NoError(t, store.Put(ctx, sampleTask("new", base)))

		all, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "new", all[0].ClientID)
		assert.Equal(t, "gone", all[1].ClientID)
		assert.True(t, all[1].Deleted)
		assert.Equal(t, "old", all[2].ClientID)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		require.NoError(t, store.Put(ctx, sampleTask("c1", time.Now())))
		require.NoError(t, store.Remove(ctx, "c1"))
		require.NoError(t, store.Remove(ctx, "c1"))

		_, err := store.Get(ctx, "c1")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})
}

func TestTaskStore_PurgeTombstones(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	store := NewTaskStore(database)
	ops := NewOpLogStore(database)

	old := time.Now().Add(-48 * time.Hour)

	stale := sampleTask("stale", old)
	stale.Deleted = true
	require.NoError(t, store.Put(ctx, stale))

	queued := sampleTask("queued", old)
	queued.Deleted = true
	require.NoError(t, store.Put(ctx, queued))
	require.NoError(t, ops.Append(ctx, newEntry("e1", oplog.OpDelete, "queued")))

	fresh := sampleTask("fresh", time.Now())
	fresh.Deleted = true
	require.NoError(t, store.Put(ctx, fresh))

	live := sampleTask("live", old)
	require.NoError(t, store.Put(ctx, live))

	n, err := store.PurgeTombstones(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, "stale")
	require.ErrorIs(t, err, task.ErrNotFound)

	for _, id := range []string{"queued", "fresh", "live"} {
		_, err := store.Get(ctx, id)
		assert.NoError(t, err, id)
	}
}
