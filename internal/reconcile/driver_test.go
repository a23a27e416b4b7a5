package reconcile_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/tasksync/internal/core/eventbus"
	"github.com/colonyops/tasksync/internal/core/eventbus/testbus"
	"github.com/colonyops/tasksync/internal/core/identity"
	"github.com/colonyops/tasksync/internal/core/netmon"
	"github.com/colonyops/tasksync/internal/core/oplog"
	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/data/db"
	"github.com/colonyops/tasksync/internal/data/stores"
	"github.com/colonyops/tasksync/internal/reconcile"
	"github.com/colonyops/tasksync/internal/remote"
	"github.com/colonyops/tasksync/internal/remote/remotetest"
)

type harness struct {
	records *stores.TaskStore
	ids     *identity.Map
	kv      *stores.KVStore
	queue   *oplog.Queue
	srv     *remotetest.Server
	api     remote.API
	net     *netmon.Monitor
	bus     *testbus.Bus
	driver  *reconcile.Driver
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	return newHarnessAt(t, t.TempDir(), remotetest.New(t, remotetest.Options{}), online)
}

// newHarnessAt opens its own database handle on dir, so two harnesses on
// one dir behave like two processes sharing a replica.
func newHarnessAt(t *testing.T, dir string, srv *remotetest.Server, online bool) *harness {
	t.Helper()

	database, err := db.Open(dir, db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	api, err := remote.New(remote.Options{BaseURL: srv.URL, Timeout: 300 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	mon := netmon.New(nil, netmon.Options{}, nil, zerolog.Nop())
	mon.Set(online)

	kvStore := stores.NewKVStore(database)
	h := &harness{
		records: stores.NewTaskStore(database),
		ids:     identity.New(kvStore),
		kv:      kvStore,
		queue:   oplog.NewQueue(stores.NewOpLogStore(database)),
		srv:     srv,
		api:     api,
		net:     mon,
		bus:     testbus.New(t),
	}
	h.rebuild()
	return h
}

func (h *harness) rebuild() {
	h.driver = reconcile.New(h.records, h.ids, h.queue, h.api, h.net, h.bus.EventBus, reconcile.Options{Lease: h.kv}, zerolog.Nop())
}

// create does what the service facade does: optimistic write, then submit.
func (h *harness) create(t *testing.T, title string) task.Task {
	t.Helper()
	now := time.Now()
	tk := task.Task{
		ClientID:  uuid.NewString(),
		Title:     title,
		Status:    task.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		SyncState: task.SyncPending,
	}
	require.NoError(t, h.records.Put(context.Background(), tk))
	require.NoError(t, h.driver.Submit(context.Background(), reconcile.Mutation{Op: oplog.OpCreate, Task: tk}))
	return tk
}

func (h *harness) update(t *testing.T, clientID, title string) task.Task {
	t.Helper()
	tk := h.record(t, clientID)
	tk.Title = title
	tk.UpdatedAt = time.Now()
	if tk.SyncState != task.SyncRejected {
		tk.SyncState = task.SyncPending
	}
	require.NoError(t, h.records.Put(context.Background(), tk))
	require.NoError(t, h.driver.Submit(context.Background(), reconcile.Mutation{Op: oplog.OpUpdate, Task: tk}))
	return tk
}

func (h *harness) remove(t *testing.T, clientID string) {
	t.Helper()
	tk := h.record(t, clientID)
	tk.Deleted = true
	tk.UpdatedAt = time.Now()
	if tk.SyncState != task.SyncRejected {
		tk.SyncState = task.SyncPending
	}
	require.NoError(t, h.records.Put(context.Background(), tk))
	require.NoError(t, h.driver.Submit(context.Background(), reconcile.Mutation{Op: oplog.OpDelete, Task: tk}))
}

func (h *harness) record(t *testing.T, clientID string) task.Task {
	t.Helper()
	tk, err := h.records.Get(context.Background(), clientID)
	require.NoError(t, err)
	return tk
}

func (h *harness) logLen(t *testing.T) int64 {
	t.Helper()
	n, err := h.queue.Len(context.Background())
	require.NoError(t, err)
	return n
}

func TestDriver_DirectCreate(t *testing.T) {
	h := newHarness(t, true)

	tk := h.create(t, "Buy milk")

	rec := h.record(t, tk.ClientID)
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, task.SyncConfirmed, rec.SyncState)
	assert.Equal(t, tk.ClientID, rec.ClientID)
	assert.Zero(t, h.logLen(t))

	serverID, ok, err := h.ids.Get(context.Background(), tk.ClientID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rec.ID, serverID)

	h.bus.AssertPublished(t, eventbus.EventTaskRemapped)
}

func TestDriver_OfflineCreate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	tk := h.create(t, "Buy milk")

	rec := h.record(t, tk.ClientID)
	assert.Empty(t, rec.ID)
	assert.Equal(t, task.SyncPending, rec.SyncState)
	assert.Equal(t, int64(1), h.logLen(t))
	assert.Zero(t, h.srv.Count(http.MethodPost))

	rep, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Offline)
	assert.Equal(t, int64(1), h.logLen(t))

	h.net.Set(true)
	rep, err = h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Completed())
	assert.Equal(t, 1, rep.Applied)

	rec = h.record(t, tk.ClientID)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, task.SyncConfirmed, rec.SyncState)
	require.Len(t, h.srv.Tasks(), 1)
	assert.Equal(t, "Buy milk", h.srv.Tasks()[0].Title)

	h.bus.AssertPublished(t, eventbus.EventSyncCompleted)
	h.bus.AssertPublished(t, eventbus.EventTaskRemapped)
}

func TestDriver_TimedOutUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	tk := h.create(t, "Draft")
	serverID := h.record(t, tk.ClientID).ID

	h.srv.Fail(http.MethodPut, remotetest.FaultApplyThenStall, 0, 1)
	h.update(t, tk.ClientID, "Final")

	// The server applied it but the client saw a timeout.
	stored, _ := h.srv.Task(serverID)
	assert.Equal(t, "Final", stored.Title)
	assert.Equal(t, int64(1), h.logLen(t))
	assert.Equal(t, task.SyncPending, h.record(t, tk.ClientID).SyncState)

	rep, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Completed())

	stored, _ = h.srv.Task(serverID)
	assert.Equal(t, "Final", stored.Title)
	assert.Len(t, h.srv.Tasks(), 1)
	assert.Equal(t, 2, h.srv.Count(http.MethodPut))

	rec := h.record(t, tk.ClientID)
	assert.Equal(t, "Final", rec.Title)
	assert.Equal(t, task.SyncConfirmed, rec.SyncState)
}

func TestDriver_DeleteNeverConfirmed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	tk := h.create(t, "Temp")
	h.remove(t, tk.ClientID)
	assert.Equal(t, int64(2), h.logLen(t))

	h.net.Set(true)
	rep, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Completed())
	assert.Equal(t, 2, rep.Applied)

	assert.Empty(t, h.srv.Tasks())
	_, err = h.records.Get(ctx, tk.ClientID)
	assert.ErrorIs(t, err, task.ErrNotFound)

	methods := make([]string, 0)
	for _, c := range h.srv.Calls() {
		methods = append(methods, c.Method)
	}
	assert.Equal(t, []string{http.MethodPost, http.MethodDelete}, methods)
}

func TestDriver_ReplayOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	tk := h.create(t, "v1")
	h.update(t, tk.ClientID, "v2")
	h.update(t, tk.ClientID, "v3")
	h.remove(t, tk.ClientID)

	h.net.Set(true)
	rep, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Applied)

	calls := h.srv.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "v1", calls[0].Body.Title)
	assert.Equal(t, http.MethodPut, calls[1].Method)
	assert.Equal(t, "v2", calls[1].Body.Title)
	assert.Equal(t, "v3", calls[2].Body.Title)
	assert.Equal(t, http.MethodDelete, calls[3].Method)

	serverID, ok, err := h.ids.Get(ctx, tk.ClientID)
	require.NoError(t, err)
	require.True(t, ok)
	for _, c := range calls[1:] {
		assert.Equal(t, "/tasks/"+serverID, c.Path)
	}
}

func TestDriver_RemapConvergence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	tk := h.create(t, "Buy milk")
	h.update(t, tk.ClientID, "Buy oat milk")

	h.net.Set(true)
	_, err := h.driver.Drain(ctx)
	require.NoError(t, err)

	rec := h.record(t, tk.ClientID)
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, "Buy oat milk", rec.Title, "local edit survives the create confirmation")
	assert.Equal(t, task.SyncConfirmed, rec.SyncState)

	byServer, err := h.records.FindByServerID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ClientID, byServer.ClientID)

	stored, ok := h.srv.Task(rec.ID)
	require.True(t, ok)
	assert.Equal(t, "Buy oat milk", stored.Title)

	ok, err = h.queue.Pending(ctx, tk.ClientID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDriver_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	tk := h.create(t, "Buy milk")

	// Simulate a crash after the server confirmed the create and the mapping
	// was written, but before the log entry was removed.
	created, err := h.api.CreateTask(ctx, tk)
	require.NoError(t, err)
	require.NoError(t, h.ids.Set(ctx, tk.ClientID, created.ID))

	h.net.Set(true)
	rep, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Completed())

	assert.Equal(t, 1, h.srv.Count(http.MethodPost))
	assert.Len(t, h.srv.Tasks(), 1)
	assert.Equal(t, created.ID, h.record(t, tk.ClientID).ID)

	// Draining an empty log changes nothing.
	rep, err = h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Applied)
	assert.Equal(t, 1, h.srv.Count(http.MethodPost))
}

func TestDriver_NoDuplicateCreates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	h.srv.Fail(http.MethodPost, remotetest.FaultStatus, http.StatusInternalServerError, 1)
	tk := h.create(t, "a")
	assert.Equal(t, int64(1), h.logLen(t))

	h.srv.Fail(http.MethodPost, remotetest.FaultApplyThenStall, 0, 1)
	rep, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	require.NotNil(t, rep.Stopped)
	assert.Equal(t, oplog.Retryable, rep.Stopped.Outcome)
	assert.Equal(t, 1, rep.Stopped.Entry.Attempts)

	rep, err = h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Completed())

	tasks := h.srv.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, tk.ClientID, tasks[0].ClientID)
	assert.Equal(t, tasks[0].ID, h.record(t, tk.ClientID).ID)
}

func TestDriver_QueuesBehindPending(t *testing.T) {
	h := newHarness(t, false)

	tk := h.create(t, "v1")
	h.net.Set(true)

	h.update(t, tk.ClientID, "v2")

	assert.Equal(t, int64(2), h.logLen(t))
	assert.Empty(t, h.srv.Calls(), "update must not overtake the queued create")
}

func TestDriver_FatalDirectCreate(t *testing.T) {
	h := newHarness(t, true)

	h.srv.Fail(http.MethodPost, remotetest.FaultStatus, http.StatusUnprocessableEntity, 1)
	tk := h.create(t, "bad")

	assert.Zero(t, h.logLen(t))
	assert.Equal(t, task.SyncRejected, h.record(t, tk.ClientID).SyncState)
	h.bus.AssertPublished(t, eventbus.EventSyncOpFailed)

	h.update(t, tk.ClientID, "still bad")
	assert.Zero(t, h.logLen(t))
	require.True(t, h.bus.WaitFor(eventbus.EventSyncOpFailed, 2, time.Second))

	payload := h.bus.Of(eventbus.EventSyncOpFailed)[1].(eventbus.SyncOpFailedPayload)
	assert.ErrorIs(t, payload.Err, reconcile.ErrDependencyRejected)

	// Deleting a task the server never accepted only needs local cleanup.
	h.remove(t, tk.ClientID)
	_, err := h.records.Get(context.Background(), tk.ClientID)
	assert.ErrorIs(t, err, task.ErrNotFound)
	assert.Zero(t, h.srv.Count(http.MethodDelete))
}

func TestDriver_RejectedCreateCascades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	bad := h.create(t, "bad")
	h.update(t, bad.ClientID, "bad 2")
	good := h.create(t, "good")

	h.srv.Fail(http.MethodPost, remotetest.FaultStatus, http.StatusBadRequest, 1)
	h.net.Set(true)

	rep, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Completed())
	assert.Equal(t, 1, rep.Applied)
	require.Len(t, rep.Dropped, 2)
	assert.ErrorIs(t, rep.Dropped[1].Err, reconcile.ErrDependencyRejected)

	assert.Equal(t, task.SyncRejected, h.record(t, bad.ClientID).SyncState)
	assert.Equal(t, task.SyncConfirmed, h.record(t, good.ClientID).SyncState)
	assert.Zero(t, h.srv.Count(http.MethodPut))

	require.True(t, h.bus.WaitFor(eventbus.EventSyncOpFailed, 2, time.Second))
	h.bus.AssertPublished(t, eventbus.EventSyncCompleted)
}

func TestDriver_UnresolvedIsAnomaly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	ghost := task.Task{ClientID: "ghost", Title: "x", Status: task.StatusPending}
	_, err := h.queue.EnqueueTask(ctx, oplog.OpUpdate, ghost)
	require.NoError(t, err)

	rep, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	require.NotNil(t, rep.Stopped)
	assert.Equal(t, oplog.Anomaly, rep.Stopped.Outcome)
	assert.ErrorIs(t, rep.Stopped.Err, reconcile.ErrUnresolved)
	assert.Equal(t, int64(1), h.logLen(t))

	h.bus.AssertPublished(t, eventbus.EventSyncAnomaly)
	h.bus.AssertNotPublished(t, eventbus.EventSyncCompleted, 50*time.Millisecond)
}

// gatedAPI blocks the first create until released.
type gatedAPI struct {
	remote.API
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedAPI) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.API.CreateTask(ctx, t)
}

func TestDriver_SingleDrainAtATime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	gate := &gatedAPI{API: h.api, entered: make(chan struct{}), release: make(chan struct{})}
	h.api = gate
	h.rebuild()

	h.create(t, "a")
	h.create(t, "b")
	h.net.Set(true)

	type result struct {
		rep oplog.DrainReport
		err error
	}
	done := make(chan result, 1)
	go func() {
		rep, err := h.driver.Drain(ctx)
		done <- result{rep, err}
	}()

	<-gate.entered

	second, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, second.Coalesced)

	close(gate.release)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, 2, first.rep.Passes)
	assert.True(t, first.rep.Completed())

	assert.Equal(t, 2, h.srv.Count(http.MethodPost))
	assert.Len(t, h.srv.Tasks(), 2)
}

func TestDriver_Run(t *testing.T) {
	h := newHarness(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	reconnect := h.net.Subscribe()
	errCh := make(chan error, 1)
	go func() { errCh <- h.driver.Run(ctx, reconnect) }()

	tk := h.create(t, "from worker")

	require.Eventually(t, func() bool { return h.logLen(t) == 1 }, time.Second, 10*time.Millisecond)

	h.net.Set(true)
	require.True(t, h.bus.WaitFor(eventbus.EventSyncCompleted, 1, 2*time.Second))
	assert.NotEmpty(t, h.record(t, tk.ClientID).ID)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	// After shutdown a mutation goes straight to the log.
	h.create(t, "after stop")
	assert.Equal(t, int64(1), h.logLen(t))
	assert.Equal(t, 1, h.srv.Count(http.MethodPost))

	assert.ErrorIs(t, h.driver.Run(context.Background(), nil), reconcile.ErrStopped)
}

func TestDriver_DrainLeaseAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	srv := remotetest.New(t, remotetest.Options{})

	a := newHarnessAt(t, dir, srv, false)
	b := newHarnessAt(t, dir, srv, true)

	gate := &gatedAPI{API: a.api, entered: make(chan struct{}), release: make(chan struct{})}
	a.api = gate
	a.rebuild()

	tk := a.create(t, "shared")
	require.Equal(t, int64(1), b.logLen(t))
	a.net.Set(true)

	type result struct {
		rep oplog.DrainReport
		err error
	}
	done := make(chan result, 1)
	go func() {
		rep, err := a.driver.Drain(ctx)
		done <- result{rep, err}
	}()

	<-gate.entered

	rep, err := b.driver.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Coalesced)
	assert.Equal(t, int64(1), rep.Remaining)
	assert.False(t, rep.Completed())

	close(gate.release)
	first := <-done
	require.NoError(t, first.err)
	assert.True(t, first.rep.Completed())
	assert.Equal(t, 1, srv.Count(http.MethodPost))

	// The lease is released when the pass ends.
	rep, err = b.driver.Drain(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Coalesced)
	assert.True(t, rep.Completed())

	assert.Equal(t, 1, srv.Count(http.MethodPost))
	assert.NotEmpty(t, b.record(t, tk.ClientID).ID)
}

// racingAPI records a different server id for the task while its create is
// in flight.
type racingAPI struct {
	remote.API
	ids *identity.Map
}

func (r *racingAPI) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	if err := r.ids.Set(ctx, t.ClientID, "srv-elsewhere"); err != nil {
		return task.Task{}, err
	}
	return r.API.CreateTask(ctx, t)
}

func TestDriver_IdentityConflictHalts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.api = &racingAPI{API: h.api, ids: h.ids}
	h.rebuild()

	tk := h.create(t, "contested")
	h.net.Set(true)

	rep, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	require.NotNil(t, rep.Stopped)
	assert.Equal(t, oplog.Anomaly, rep.Stopped.Outcome)
	assert.ErrorIs(t, rep.Stopped.Err, identity.ErrConflict)
	assert.Equal(t, int64(1), h.logLen(t))

	rec := h.record(t, tk.ClientID)
	assert.Empty(t, rec.ID)
	assert.Equal(t, task.SyncPending, rec.SyncState)

	serverID, ok, err := h.ids.Get(ctx, tk.ClientID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "srv-elsewhere", serverID)

	h.bus.AssertPublished(t, eventbus.EventSyncAnomaly)
	h.bus.AssertNotPublished(t, eventbus.EventSyncCompleted, 50*time.Millisecond)
}

func TestDriver_StoppedPassEndsDrain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	gate := &gatedAPI{API: h.api, entered: make(chan struct{}), release: make(chan struct{})}
	h.api = gate
	h.rebuild()

	h.create(t, "first")
	ghost := task.Task{ClientID: "ghost", Title: "x", Status: task.StatusPending}
	_, err := h.queue.EnqueueTask(ctx, oplog.OpUpdate, ghost)
	require.NoError(t, err)
	h.net.Set(true)

	type result struct {
		rep oplog.DrainReport
		err error
	}
	done := make(chan result, 1)
	go func() {
		rep, err := h.driver.Drain(ctx)
		done <- result{rep, err}
	}()

	<-gate.entered

	second, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, second.Coalesced)

	close(gate.release)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, 1, first.rep.Applied)
	assert.Equal(t, 1, first.rep.Passes, "a halted pass is not repeated")
	require.NotNil(t, first.rep.Stopped)
	assert.Equal(t, oplog.Anomaly, first.rep.Stopped.Outcome)

	require.True(t, h.bus.WaitFor(eventbus.EventSyncAnomaly, 1, time.Second))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.bus.Count(eventbus.EventSyncAnomaly))
}
