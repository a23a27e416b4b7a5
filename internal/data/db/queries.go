package db

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds every statement the stores issue.
type Queries struct {
	db DBTX
}

// New binds a query set to a connection or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy of q bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Task is a row of the tasks table.
type Task struct {
	ClientID    string
	ServerID    sql.NullString
	Title       string
	Description string
	Status      string
	SyncState   string
	Deleted     bool
	CreatedAt   int64
	UpdatedAt   int64
}

// PendingOp is a row of the pending_ops table.
type PendingOp struct {
	Seq        int64
	ID         string
	Op         string
	ClientID   string
	Payload    []byte
	EnqueuedAt int64
	Attempts   int64
	LastError  string
}

// KvStore is a row of the kv_store table.
type KvStore struct {
	Key       string
	Value     []byte
	ExpiresAt sql.NullInt64
	CreatedAt int64
	UpdatedAt int64
}

const taskColumns = `client_id, server_id, title, description, status, sync_state, deleted, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ClientID, &t.ServerID, &t.Title, &t.Description, &t.Status,
		&t.SyncState, &t.Deleted, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

const upsertTask = `
INSERT INTO tasks (` + taskColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(client_id) DO UPDATE SET
    server_id   = excluded.server_id,
    title       = excluded.title,
    description = excluded.description,
    status      = excluded.status,
    sync_state  = excluded.sync_state,
    deleted     = excluded.deleted,
    created_at  = excluded.created_at,
    updated_at  = excluded.updated_at
`

// UpsertTask inserts or replaces a task row in one statement.
func (q *Queries) UpsertTask(ctx context.Context, t Task) error {
	_, err := q.db.ExecContext(ctx, upsertTask,
		t.ClientID, t.ServerID, t.Title, t.Description, t.Status,
		t.SyncState, t.Deleted, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// GetTask returns the task row for a client id.
func (q *Queries) GetTask(ctx context.Context, clientID string) (Task, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE client_id = ?`, clientID)
	return scanTask(row)
}

// GetTaskByServerID returns the task row carrying a server id.
func (q *Queries) GetTaskByServerID(ctx context.Context, serverID string) (Task, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE server_id = ?`, serverID)
	return scanTask(row)
}

// ListTasks returns all task rows, newest first.
func (q *Queries) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, client_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// DeleteTask removes a task row.
func (q *Queries) DeleteTask(ctx context.Context, clientID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM tasks WHERE client_id = ?`, clientID)
	return err
}

// PurgeDeletedTasks removes tombstones older than the cutoff that no pending
// operation references.
func (q *Queries) PurgeDeletedTasks(ctx context.Context, before int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
DELETE FROM tasks
WHERE deleted = 1
  AND updated_at < ?
  AND client_id NOT IN (SELECT client_id FROM pending_ops)`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const pendingOpColumns = `seq, id, op, client_id, payload, enqueued_at, attempts, last_error`

func scanPendingOp(row interface{ Scan(...any) error }) (PendingOp, error) {
	var p PendingOp
	err := row.Scan(&p.Seq, &p.ID, &p.Op, &p.ClientID, &p.Payload, &p.EnqueuedAt, &p.Attempts, &p.LastError)
	return p, err
}

// InsertPendingOpParams are the caller supplied columns of a new entry.
type InsertPendingOpParams struct {
	ID         string
	Op         string
	ClientID   string
	Payload    []byte
	EnqueuedAt int64
}

// InsertPendingOp appends an entry and returns its sequence number.
func (q *Queries) InsertPendingOp(ctx context.Context, arg InsertPendingOpParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, `
INSERT INTO pending_ops (id, op, client_id, payload, enqueued_at)
VALUES (?, ?, ?, ?, ?)
RETURNING seq`, arg.ID, arg.Op, arg.ClientID, arg.Payload, arg.EnqueuedAt)

	var seq int64
	err := row.Scan(&seq)
	return seq, err
}

// FirstPendingOp returns the entry with the lowest sequence number.
func (q *Queries) FirstPendingOp(ctx context.Context) (PendingOp, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+pendingOpColumns+` FROM pending_ops ORDER BY seq ASC LIMIT 1`)
	return scanPendingOp(row)
}

// ListPendingOps returns every entry in sequence order.
func (q *Queries) ListPendingOps(ctx context.Context) ([]PendingOp, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+pendingOpColumns+` FROM pending_ops ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []PendingOp
	for rows.Next() {
		p, err := scanPendingOp(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// DeletePendingOp removes an entry and reports how many rows went away.
func (q *Queries) DeletePendingOp(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM pending_ops WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordPendingOpFailure bumps the attempt counter of an entry.
func (q *Queries) RecordPendingOpFailure(ctx context.Context, id string, lastError string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE pending_ops SET attempts = attempts + 1, last_error = ? WHERE id = ?`, lastError, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountPendingOps returns the number of entries.
func (q *Queries) CountPendingOps(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_ops`).Scan(&n)
	return n, err
}

// CountPendingOpsForClient returns the number of entries for a client id.
func (q *Queries) CountPendingOpsForClient(ctx context.Context, clientID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_ops WHERE client_id = ?`, clientID).Scan(&n)
	return n, err
}

const kvColumns = `key, value, expires_at, created_at, updated_at`

// KVGet returns a KV row by key.
func (q *Queries) KVGet(ctx context.Context, key string) (KvStore, error) {
	var r KvStore
	err := q.db.QueryRowContext(ctx, `SELECT `+kvColumns+` FROM kv_store WHERE key = ?`, key).
		Scan(&r.Key, &r.Value, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// KVSetParams are the columns written by KVSet.
type KVSetParams struct {
	Key       string
	Value     []byte
	ExpiresAt sql.NullInt64
	CreatedAt int64
	UpdatedAt int64
}

// KVSet inserts or replaces a KV row, keeping the original created_at.
func (q *Queries) KVSet(ctx context.Context, arg KVSetParams) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO kv_store (`+kvColumns+`)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    value      = excluded.value,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at`,
		arg.Key, arg.Value, arg.ExpiresAt, arg.CreatedAt, arg.UpdatedAt)
	return err
}

// KVClaim inserts a row, or takes over an existing one that holds the same
// value or has expired. It reports whether the row now holds arg.Value.
func (q *Queries) KVClaim(ctx context.Context, arg KVSetParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
INSERT INTO kv_store (`+kvColumns+`)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    value      = excluded.value,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at
WHERE kv_store.value = excluded.value
   OR (kv_store.expires_at IS NOT NULL AND kv_store.expires_at < excluded.updated_at)`,
		arg.Key, arg.Value, arg.ExpiresAt, arg.CreatedAt, arg.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// KVDeleteIfValue removes a KV row only while it still holds value.
func (q *Queries) KVDeleteIfValue(ctx context.Context, key string, value []byte) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ? AND value = ?`, key, value)
	return err
}

// KVDelete removes a KV row.
func (q *Queries) KVDelete(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
	return err
}

// KVHas counts rows for a key (0 or 1).
func (q *Queries) KVHas(ctx context.Context, key string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_store WHERE key = ?`, key).Scan(&n)
	return n, err
}

// KVListKeys returns keys not expired at now, sorted.
func (q *Queries) KVListKeys(ctx context.Context, now sql.NullInt64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT key FROM kv_store WHERE expires_at IS NULL OR expires_at > ? ORDER BY key ASC`, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// KVSweepExpired deletes rows whose expiry is before now.
func (q *Queries) KVSweepExpired(ctx context.Context, now sql.NullInt64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	return err
}
