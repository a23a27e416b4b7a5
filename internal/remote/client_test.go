package remote_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/tasksync/internal/core/oplog"
	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/remote"
	"github.com/colonyops/tasksync/internal/remote/remotetest"
)

func newClient(t *testing.T, srv *remotetest.Server, opts remote.Options) *remote.Client {
	t.Helper()
	opts.BaseURL = srv.URL
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	c, err := remote.New(opts, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := remote.New(remote.Options{BaseURL: "/api"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_CRUD(t *testing.T) {
	ctx := context.Background()
	srv := remotetest.New(t, remotetest.Options{Token: "secret"})
	c := newClient(t, srv, remote.Options{Token: "secret"})

	created, err := c.CreateTask(ctx, task.Task{Title: "Buy milk", Status: task.StatusPending})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Buy milk", created.Title)
	assert.Equal(t, task.SyncConfirmed, created.SyncState)

	created.Status = task.StatusCompleted
	require.NoError(t, c.UpdateTask(ctx, created.ID, created))

	stored, ok := srv.Task(created.ID)
	require.True(t, ok)
	assert.Equal(t, "Completed", stored.Status)

	list, err := c.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, task.StatusCompleted, list[0].Status)

	require.NoError(t, c.DeleteTask(ctx, created.ID))
	assert.Empty(t, srv.Tasks())

	err = c.DeleteTask(ctx, created.ID)
	require.Error(t, err)
	assert.Equal(t, oplog.OK, remote.Classify(err))
}

func TestClient_LegacyServer(t *testing.T) {
	ctx := context.Background()
	srv := remotetest.New(t, remotetest.Options{Legacy: true, Wrap: true})
	c := newClient(t, srv, remote.Options{LegacyStatus: true})

	created, err := c.CreateTask(ctx, task.Task{Title: "Comprar pan", Status: task.StatusInProgress})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, task.StatusInProgress, created.Status)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "En Progreso", calls[0].Body.Status)

	list, err := c.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestClient_Unauthorized(t *testing.T) {
	srv := remotetest.New(t, remotetest.Options{Token: "secret"})
	c := newClient(t, srv, remote.Options{Token: "wrong"})

	_, err := c.CreateTask(context.Background(), task.Task{Title: "x", Status: task.StatusPending})
	require.Error(t, err)

	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, oplog.Fatal, remote.Classify(err))
}

func TestClient_Faults(t *testing.T) {
	ctx := context.Background()

	t.Run("server error is retryable", func(t *testing.T) {
		srv := remotetest.New(t, remotetest.Options{})
		c := newClient(t, srv, remote.Options{})
		srv.Fail(http.MethodPost, remotetest.FaultStatus, http.StatusBadGateway, 1)

		_, err := c.CreateTask(ctx, task.Task{Title: "x", Status: task.StatusPending})
		assert.Equal(t, oplog.Retryable, remote.Classify(err))
		assert.Empty(t, srv.Tasks())

		_, err = c.CreateTask(ctx, task.Task{Title: "x", Status: task.StatusPending})
		assert.NoError(t, err)
	})

	t.Run("dropped connection is retryable", func(t *testing.T) {
		srv := remotetest.New(t, remotetest.Options{})
		c := newClient(t, srv, remote.Options{})
		srv.Fail("", remotetest.FaultDisconnect, 0, 1)

		_, err := c.ListTasks(ctx)
		require.Error(t, err)
		assert.Equal(t, oplog.Retryable, remote.Classify(err))
	})

	t.Run("timeout after apply is retryable", func(t *testing.T) {
		srv := remotetest.New(t, remotetest.Options{})
		srv.Seed(remotetest.Task{ID: "s1", Title: "old", Status: "Pending"})
		c := newClient(t, srv, remote.Options{Timeout: 200 * time.Millisecond})
		srv.Fail(http.MethodPut, remotetest.FaultApplyThenStall, 0, 1)

		err := c.UpdateTask(ctx, "s1", task.Task{Title: "new", Status: task.StatusPending})
		require.Error(t, err)
		assert.Equal(t, oplog.Retryable, remote.Classify(err))

		stored, _ := srv.Task("s1")
		assert.Equal(t, "new", stored.Title)
	})
}

func TestClient_Probe(t *testing.T) {
	ctx := context.Background()
	srv := remotetest.New(t, remotetest.Options{Token: "secret"})
	c := newClient(t, srv, remote.Options{})

	// An auth failure still proves the server is up.
	assert.NoError(t, c.Probe(ctx))

	srv.Close()
	assert.Error(t, c.Probe(ctx))
}
