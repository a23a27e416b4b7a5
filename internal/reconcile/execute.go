package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/colonyops/tasksync/internal/core/eventbus"
	"github.com/colonyops/tasksync/internal/core/identity"
	"github.com/colonyops/tasksync/internal/core/oplog"
	"github.com/colonyops/tasksync/internal/core/task"
	"github.com/colonyops/tasksync/internal/remote"
)

// execute performs one operation against the server and settles the local
// record. queued is true when e is still in the log, i.e. during a drain.
func (d *Driver) execute(ctx context.Context, e oplog.Entry, queued bool) oplog.Result {
	switch e.Op {
	case oplog.OpCreate:
		return d.create(ctx, e, queued)
	case oplog.OpUpdate:
		return d.update(ctx, e, queued)
	case oplog.OpDelete:
		return d.delete(ctx, e)
	}
	return oplog.Drop(fmt.Errorf("unknown op %q", e.Op))
}

func (d *Driver) create(ctx context.Context, e oplog.Entry, queued bool) oplog.Result {
	// A mapping means an earlier attempt was confirmed but the entry was not
	// removed. Do not POST again.
	if serverID, ok, err := d.ids.Get(ctx, e.ClientID); err != nil {
		return storageFailure("identity lookup", err)
	} else if ok {
		d.log.Debug().Ctx(ctx).Str("server_id", serverID).Msg("create already confirmed")
		return d.settle(ctx, e, serverID, nil, queued)
	}

	if e.Payload == nil {
		return oplog.Drop(fmt.Errorf("create %s has no payload", e.ClientID))
	}

	callCtx, cancel := d.callContext(ctx)
	created, err := d.api.CreateTask(callCtx, *e.Payload)
	cancel()
	if err != nil {
		return remote.Result(err)
	}

	if err := d.ids.Set(ctx, e.ClientID, created.ID); err != nil {
		if errors.Is(err, identity.ErrConflict) {
			return oplog.Halt(err)
		}
		return storageFailure("record identity", err)
	}

	return d.settle(ctx, e, created.ID, &created, queued)
}

func (d *Driver) update(ctx context.Context, e oplog.Entry, queued bool) oplog.Result {
	if e.Payload == nil {
		return oplog.Drop(fmt.Errorf("update %s has no payload", e.ClientID))
	}

	serverID, res, ok := d.resolve(ctx, e.ClientID)
	if !ok {
		return res
	}

	callCtx, cancel := d.callContext(ctx)
	err := d.api.UpdateTask(callCtx, serverID, *e.Payload)
	cancel()
	if err != nil {
		return remote.Result(err)
	}

	return d.settle(ctx, e, serverID, nil, queued)
}

func (d *Driver) delete(ctx context.Context, e oplog.Entry) oplog.Result {
	serverID, res, ok := d.resolve(ctx, e.ClientID)
	if !ok {
		// Nothing exists on the server for a task whose create was refused.
		if errors.Is(res.Err, ErrDependencyRejected) {
			if err := d.records.Remove(ctx, e.ClientID); err != nil {
				return storageFailure("remove record", err)
			}
			return oplog.Done()
		}
		return res
	}

	callCtx, cancel := d.callContext(ctx)
	err := d.api.DeleteTask(callCtx, serverID)
	cancel()
	if outcome := remote.Classify(err); outcome != oplog.OK {
		return oplog.Result{Outcome: outcome, Err: err}
	}

	if err := d.records.Remove(ctx, e.ClientID); err != nil {
		return storageFailure("remove record", err)
	}
	return oplog.Done()
}

// resolve finds the server id for clientID, preferring the identity map
// over the id carried on the record. ok is false when res should be
// returned as is.
func (d *Driver) resolve(ctx context.Context, clientID string) (string, oplog.Result, bool) {
	rec, err := d.records.Get(ctx, clientID)
	found := err == nil
	if err != nil && !errors.Is(err, task.ErrNotFound) {
		return "", storageFailure("load record", err), false
	}

	var fallback string
	if found {
		fallback = rec.ID
	}
	serverID, err := d.ids.Resolve(ctx, clientID, fallback)
	if err != nil {
		return "", storageFailure("identity lookup", err), false
	}
	if serverID != "" {
		return serverID, oplog.Result{}, true
	}

	if found && rec.SyncState == task.SyncRejected {
		return "", oplog.Drop(ErrDependencyRejected), false
	}
	return "", oplog.Halt(fmt.Errorf("%w: %s", ErrUnresolved, clientID)), false
}

// settle writes the confirmed state of a task. Server fields replace local
// ones only when no newer local change exists: no later entry for the task
// is queued and the record has not been modified since e was issued.
func (d *Driver) settle(ctx context.Context, e oplog.Entry, serverID string, server *task.Task, queued bool) oplog.Result {
	rec, err := d.records.Get(ctx, e.ClientID)
	if errors.Is(err, task.ErrNotFound) {
		return oplog.Done()
	}
	if err != nil {
		return storageFailure("load record", err)
	}

	later, err := d.queue.CountForClient(ctx, e.ClientID)
	if err != nil {
		return storageFailure("count pending", err)
	}
	if queued {
		later--
	}

	remapped := rec.ID == ""
	if remapped {
		rec.ID = serverID
	}

	stale := later > 0 || rec.Deleted ||
		(e.Payload != nil && rec.UpdatedAt.After(e.Payload.UpdatedAt))

	switch {
	case stale:
		rec.SyncState = task.SyncPending
	case server != nil:
		rec = merge(rec, *server)
	default:
		rec.SyncState = task.SyncConfirmed
	}

	if err := d.records.Put(ctx, rec); err != nil {
		return storageFailure("store confirmed record", err)
	}

	if remapped {
		d.log.Debug().Ctx(ctx).Str("server_id", serverID).Msg("task remapped")
		d.bus.PublishTaskRemapped(eventbus.TaskRemappedPayload{ClientID: e.ClientID, ServerID: serverID})
	}
	return oplog.Done()
}

// merge overlays the server's view of a task on the local record. Identity
// and local timestamps are kept.
func merge(local, server task.Task) task.Task {
	out := local
	if server.Title != "" && server.Title != remote.UntitledTitle {
		out.Title = server.Title
	}
	out.Description = server.Description
	if server.Status.IsValid() {
		out.Status = server.Status
	}
	out.SyncState = task.SyncConfirmed
	return out
}
