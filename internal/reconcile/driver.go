// Package reconcile replays local task mutations against the server and
// folds the results back into the local replica.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/tasksync/internal/core/eventbus"
	"github.com/colonyops/tasksync/internal/core/identity"
	"github.com/colonyops/tasksync/internal/core/logging"
	"github.com/colonyops/tasksync/internal/core/oplog"
	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/remote"
)

var (
	// ErrStopped is returned by Run when the driver has already run.
	ErrStopped = errors.New("reconcile driver stopped")
	// ErrDependencyRejected drops an operation whose task was never created
	// on the server because its create was refused.
	ErrDependencyRejected = errors.New("task creation was rejected by the server")
	// ErrUnresolved is an integrity anomaly: an update or delete references a
	// task with no known server id.
	ErrUnresolved = errors.New("no server id for task")
	// ErrLeaseLost aborts a drain whose drain lease was taken over by
	// another process.
	ErrLeaseLost = errors.New("drain lease lost")
)

// drainLeaseKey names the lease every process sharing the log claims
// before replaying it.
const drainLeaseKey = "lease:drain"

const minLeaseTTL = 30 * time.Second

// Lease is a claim on the right to drain the log, shared by every process
// using the same database.
type Lease interface {
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// Reachability reports the committed network state.
type Reachability interface {
	Reachable() bool
}

// Mutation is a local change handed to the driver after it has been
// applied to the record store.
type Mutation struct {
	Op   oplog.Op
	Task task.Task
}

// Options tunes the driver.
type Options struct {
	// RetryInterval is how often Run retries a non-empty log while reachable.
	// Zero disables the retry tick.
	RetryInterval time.Duration
	// CallTimeout bounds each remote call. Zero relies on the API client.
	CallTimeout time.Duration
	// Lease serializes drains across processes. Nil limits the guarantee to
	// this process.
	Lease Lease
	// LeaseTTL is how long a claim survives without renewal. It is renewed
	// before every entry. Defaults to the larger of 30s and 2*CallTimeout.
	LeaseTTL time.Duration
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopped
)

// Driver owns the remote side of every mutation. Direct attempts and drain
// passes are serialized, so the server observes mutations for a task in the
// order they were made.
type Driver struct {
	records task.Store
	ids     *identity.Map
	queue   *oplog.Queue
	api     remote.API
	net     Reachability
	bus     *eventbus.EventBus
	log     zerolog.Logger
	opts    Options
	owner   string

	applyMu sync.Mutex

	drainMu  sync.Mutex
	draining bool
	rerun    bool

	stateMu sync.Mutex
	state   runState
	jobs    []Mutation
	wake    chan struct{}
	drainCh chan struct{}
}

// New creates a Driver. bus may be nil.
func New(
	records task.Store,
	ids *identity.Map,
	queue *oplog.Queue,
	api remote.API,
	net Reachability,
	bus *eventbus.EventBus,
	opts Options,
	log zerolog.Logger,
) *Driver {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = max(minLeaseTTL, 2*opts.CallTimeout)
	}
	return &Driver{
		records: records,
		ids:     ids,
		queue:   queue,
		api:     api,
		net:     net,
		bus:     bus,
		log:     log,
		opts:    opts,
		owner:   uuid.NewString(),
		wake:    make(chan struct{}, 1),
		drainCh: make(chan struct{}, 1),
	}
}

// Submit hands a mutation to the driver. While Run is active the mutation
// is processed on the worker and Submit returns immediately. Without a
// worker the direct attempt happens inline. After Run has returned the
// mutation goes straight to the log.
func (d *Driver) Submit(ctx context.Context, m Mutation) error {
	d.stateMu.Lock()
	switch d.state {
	case stateRunning:
		d.jobs = append(d.jobs, m)
		d.stateMu.Unlock()
		signal(d.wake)
		return nil
	case stateStopped:
		defer d.stateMu.Unlock()
		return d.enqueue(ctx, m)
	}
	d.stateMu.Unlock()

	return d.Apply(ctx, m)
}

// Apply performs the direct attempt for m, queueing it when the server is
// unreachable, when an earlier mutation for the same task is still queued,
// or when the attempt fails in a way that may succeed later. Only local
// storage failures are returned.
func (d *Driver) Apply(ctx context.Context, m Mutation) error {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()
	return d.apply(ctx, m)
}

func (d *Driver) apply(ctx context.Context, m Mutation) error {
	ctx = logging.WithClientID(ctx, m.Task.ClientID)

	pending, err := d.queue.Pending(ctx, m.Task.ClientID)
	if err != nil {
		return err
	}
	if pending {
		d.log.Debug().Ctx(ctx).Str("op", string(m.Op)).Msg("queued behind earlier operation")
		return d.enqueue(ctx, m)
	}
	if !d.net.Reachable() {
		d.log.Debug().Ctx(ctx).Str("op", string(m.Op)).Msg("offline, queued")
		return d.enqueue(ctx, m)
	}

	e := entryFor(m)
	res := d.execute(ctx, e, false)

	switch res.Outcome {
	case oplog.OK:
		return nil
	case oplog.Retryable, oplog.Anomaly:
		d.log.Info().Ctx(ctx).Err(res.Err).Str("op", string(m.Op)).Stringer("outcome", res.Outcome).Msg("direct attempt failed, queued")
		return d.enqueue(ctx, m)
	case oplog.Fatal:
		d.fail(ctx, e, res.Err)
		return nil
	default:
		return res.Err
	}
}

// Drain replays the log front to back. A call made while another pass is
// running in this process is folded into one extra pass of the running call
// and returns a report with Coalesced set. When another process holds the
// drain lease the call returns at once with Coalesced set and the current
// log length. A pass that stops on an entry ends the call.
func (d *Driver) Drain(ctx context.Context) (oplog.DrainReport, error) {
	d.drainMu.Lock()
	if d.draining {
		d.rerun = true
		d.drainMu.Unlock()
		return oplog.DrainReport{Coalesced: true}, nil
	}
	d.draining = true
	d.drainMu.Unlock()

	var total oplog.DrainReport
	for {
		rep, err := d.drainPass(ctx)
		total.Merge(rep)
		if err != nil {
			d.finishDrain()
			return total, err
		}

		d.drainMu.Lock()
		if !d.rerun || total.Offline || total.Coalesced || rep.Stopped != nil {
			d.draining = false
			d.rerun = false
			d.drainMu.Unlock()
			return total, nil
		}
		d.rerun = false
		d.drainMu.Unlock()
	}
}

func (d *Driver) finishDrain() {
	d.drainMu.Lock()
	d.draining = false
	d.rerun = false
	d.drainMu.Unlock()
}

// drainPass runs one pass under the drain lease. The lease is released
// before the pass returns.
func (d *Driver) drainPass(ctx context.Context) (oplog.DrainReport, error) {
	if !d.net.Reachable() {
		return oplog.DrainReport{Offline: true}, nil
	}

	held, err := d.claimLease(ctx)
	if err != nil {
		return oplog.DrainReport{}, err
	}
	if !held {
		n, err := d.queue.Len(ctx)
		if err != nil {
			return oplog.DrainReport{}, fmt.Errorf("count pending operations: %w", err)
		}
		d.log.Debug().Int64("remaining", n).Msg("another process is draining")
		return oplog.DrainReport{Coalesced: true, Remaining: n}, nil
	}
	defer d.releaseLease(ctx)

	return d.drainOnce(ctx)
}

func (d *Driver) claimLease(ctx context.Context) (bool, error) {
	if d.opts.Lease == nil {
		return true, nil
	}
	held, err := d.opts.Lease.Claim(ctx, drainLeaseKey, d.owner, d.opts.LeaseTTL)
	if err != nil {
		return false, fmt.Errorf("claim drain lease: %w", err)
	}
	return held, nil
}

func (d *Driver) releaseLease(ctx context.Context) {
	if d.opts.Lease == nil {
		return
	}
	if err := d.opts.Lease.Release(context.WithoutCancel(ctx), drainLeaseKey, d.owner); err != nil {
		d.log.Error().Err(err).Msg("release drain lease")
	}
}

func (d *Driver) drainOnce(ctx context.Context) (oplog.DrainReport, error) {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	rejected := make(map[string]bool)

	rep, err := d.queue.Drain(ctx, func(ctx context.Context, e oplog.Entry) oplog.Result {
		ctx = logging.WithEntryID(logging.WithClientID(ctx, e.ClientID), e.ID)

		if held, err := d.claimLease(ctx); err != nil {
			return oplog.Failed(err)
		} else if !held {
			return oplog.Failed(ErrLeaseLost)
		}

		if rejected[e.ClientID] {
			return oplog.Drop(ErrDependencyRejected)
		}

		res := d.execute(ctx, e, true)
		if res.Outcome == oplog.Fatal && e.Op == oplog.OpCreate {
			rejected[e.ClientID] = true
		}
		return res
	})

	for _, f := range rep.Dropped {
		fctx := logging.WithClientID(ctx, f.Entry.ClientID)
		if f.Entry.Op == oplog.OpCreate {
			if err := d.markRejected(fctx, f.Entry.ClientID); err != nil {
				d.log.Error().Ctx(fctx).Err(err).Msg("mark task rejected")
			}
		}
		d.log.Warn().Ctx(fctx).Err(f.Err).Str("op", string(f.Entry.Op)).Msg("operation dropped")
		d.bus.PublishSyncOpFailed(eventbus.SyncOpFailedPayload{Entry: f.Entry, Err: f.Err})
	}

	if s := rep.Stopped; s != nil {
		sctx := logging.WithEntryID(logging.WithClientID(ctx, s.Entry.ClientID), s.Entry.ID)
		switch s.Outcome {
		case oplog.Anomaly:
			d.log.Warn().Ctx(sctx).Err(s.Err).Str("op", string(s.Entry.Op)).Msg("sync anomaly, log halted")
			d.bus.PublishSyncAnomaly(eventbus.SyncAnomalyPayload{Entry: s.Entry, Outcome: s.Outcome, Err: s.Err})
		case oplog.Retryable:
			d.log.Info().Ctx(sctx).Err(s.Err).Int("attempts", s.Entry.Attempts).Msg("drain paused, will retry")
		}
	}

	if err != nil {
		return rep, err
	}

	if rep.Stopped == nil && rep.Remaining == 0 {
		d.log.Debug().Int("applied", rep.Applied).Int("dropped", len(rep.Dropped)).Msg("log drained")
		d.bus.PublishSyncCompleted(eventbus.SyncCompletedPayload{
			Applied: rep.Applied,
			Dropped: len(rep.Dropped),
			Passes:  rep.Passes,
		})
	}

	return rep, nil
}

// RequestDrain asks the running worker for a drain pass. Requests coalesce.
func (d *Driver) RequestDrain() {
	signal(d.drainCh)
}

// Run processes submitted mutations and drain requests until ctx is done.
// reconnect delivers "became reachable" edges. Mutations still waiting when
// ctx ends are written to the log without a remote attempt.
func (d *Driver) Run(ctx context.Context, reconnect <-chan struct{}) error {
	d.stateMu.Lock()
	if d.state != stateIdle {
		d.stateMu.Unlock()
		return ErrStopped
	}
	d.state = stateRunning
	d.stateMu.Unlock()

	var tick <-chan time.Time
	if d.opts.RetryInterval > 0 {
		ticker := time.NewTicker(d.opts.RetryInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Whatever was queued while no worker was running.
	d.drainLogged(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			return d.shutdown(ctx)
		case <-d.wake:
			d.processJobs(ctx)
		case <-reconnect:
			d.drainLogged(ctx, "reconnect")
		case <-d.drainCh:
			d.drainLogged(ctx, "request")
		case <-tick:
			n, err := d.queue.Len(ctx)
			if err != nil {
				d.log.Error().Err(err).Msg("count pending operations")
				continue
			}
			if n > 0 && d.net.Reachable() {
				d.drainLogged(ctx, "retry")
			}
		}
	}
}

func (d *Driver) processJobs(ctx context.Context) {
	for {
		d.stateMu.Lock()
		if len(d.jobs) == 0 || d.state != stateRunning {
			d.stateMu.Unlock()
			return
		}
		m := d.jobs[0]
		d.jobs = d.jobs[1:]
		d.stateMu.Unlock()

		if err := d.Apply(ctx, m); err != nil {
			d.log.Error().Err(err).Str("op", string(m.Op)).Str("client_id", m.Task.ClientID).Msg("apply mutation")
		}
	}
}

func (d *Driver) drainLogged(ctx context.Context, trigger string) {
	rep, err := d.Drain(ctx)
	if err != nil {
		if ctx.Err() != nil {
			d.log.Debug().Err(err).Str("trigger", trigger).Msg("drain interrupted")
			return
		}
		d.log.Error().Err(err).Str("trigger", trigger).Msg("drain failed")
		return
	}
	d.log.Debug().
		Str("trigger", trigger).
		Int("applied", rep.Applied).
		Int64("remaining", rep.Remaining).
		Bool("offline", rep.Offline).
		Msg("drain finished")
}

func (d *Driver) shutdown(ctx context.Context) error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	d.state = stateStopped
	jobs := d.jobs
	d.jobs = nil

	flushCtx := context.WithoutCancel(ctx)
	var errs []error
	for _, m := range jobs {
		if err := d.enqueue(flushCtx, m); err != nil {
			errs = append(errs, err)
		}
	}
	if len(jobs) > 0 {
		d.log.Info().Int("count", len(jobs)).Msg("queued unprocessed mutations on shutdown")
	}
	return errors.Join(errs...)
}

func (d *Driver) enqueue(ctx context.Context, m Mutation) error {
	_, err := d.queue.EnqueueTask(context.WithoutCancel(ctx), m.Op, m.Task)
	return err
}

func (d *Driver) fail(ctx context.Context, e oplog.Entry, err error) {
	d.log.Warn().Ctx(ctx).Err(err).Str("op", string(e.Op)).Msg("operation rejected by server")
	if e.Op == oplog.OpCreate {
		if merr := d.markRejected(ctx, e.ClientID); merr != nil {
			d.log.Error().Ctx(ctx).Err(merr).Msg("mark task rejected")
		}
	}
	d.bus.PublishSyncOpFailed(eventbus.SyncOpFailedPayload{Entry: e, Err: err})
}

func (d *Driver) markRejected(ctx context.Context, clientID string) error {
	rec, err := d.records.Get(ctx, clientID)
	if errors.Is(err, task.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	rec.SyncState = task.SyncRejected
	return d.records.Put(ctx, rec)
}

func entryFor(m Mutation) oplog.Entry {
	e := oplog.Entry{Op: m.Op, ClientID: m.Task.ClientID}
	if m.Op != oplog.OpDelete {
		snapshot := m.Task
		e.Payload = &snapshot
	}
	return e
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (d *Driver) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, d.opts.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func storageFailure(what string, err error) oplog.Result {
	return oplog.Failed(fmt.Errorf("%s: %w", what, err))
}
