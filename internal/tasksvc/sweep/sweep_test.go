package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/data/db"
	"github.com/colonyops/tasksync/internal/data/stores"
)

func TestOnce(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	records := stores.NewTaskStore(database)
	kvStore := stores.NewKVStore(database)

	old := time.Now().Add(-10 * 24 * time.Hour)
	gone := task.Task{
		ClientID:  "gone",
		Title:     "old tombstone",
		Status:    task.StatusPending,
		CreatedAt: old,
		UpdatedAt: old,
		Deleted:   true,
		SyncState: task.SyncPending,
	}
	require.NoError(t, records.Put(ctx, gone))

	recent := gone
	recent.ClientID = "recent"
	recent.UpdatedAt = time.Now()
	require.NoError(t, records.Put(ctx, recent))

	require.NoError(t, kvStore.SetTTL(ctx, "meta:probe", "x", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	purged, err := Once(ctx, records, kvStore, 7*24*time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = records.Get(ctx, "gone")
	assert.ErrorIs(t, err, task.ErrNotFound)
	_, err = records.Get(ctx, "recent")
	assert.NoError(t, err)

	keys, err := kvStore.ListKeys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, "meta:probe")
}

type failingTombstones struct{}

func (failingTombstones) PurgeTombstones(context.Context, time.Time) (int64, error) {
	return 0, errors.New("disk full")
}

type countingExpirer struct{ calls int }

func (c *countingExpirer) SweepExpired(context.Context) error {
	c.calls++
	return nil
}

func TestOnce_StopsOnPurgeError(t *testing.T) {
	exp := &countingExpirer{}
	_, err := Once(context.Background(), failingTombstones{}, exp, time.Hour, time.Now())
	assert.Error(t, err)
	assert.Zero(t, exp.calls)
}

func TestStart_StopsWithContext(t *testing.T) {
	exp := &countingExpirer{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Start(ctx, noTombstones{}, exp, time.Hour, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
}

type noTombstones struct{}

func (noTombstones) PurgeTombstones(context.Context, time.Time) (int64, error) { return 0, nil }
