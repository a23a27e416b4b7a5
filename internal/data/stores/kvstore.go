package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/tasksync/internal/core/kv"
	"github.com/colonyops/tasksync/internal/data/db"
)

// KVStore implements kv.KV on the kv_store table.
type KVStore struct {
	db  *db.DB
	now func() time.Time
}

var _ kv.KV = (*KVStore)(nil)

// NewKVStore creates a SQLite-backed KV store.
func NewKVStore(db *db.DB) *KVStore {
	return &KVStore{db: db, now: time.Now}
}

// load fetches a live row. Expired rows are deleted and reported as
// sql.ErrNoRows.
func (s *KVStore) load(ctx context.Context, key string) (db.KvStore, error) {
	row, err := s.db.Queries().KVGet(ctx, key)
	if err != nil {
		return db.KvStore{}, err
	}

	if row.ExpiresAt.Valid && row.ExpiresAt.Int64 < s.now().UnixNano() {
		_ = s.db.Queries().KVDelete(ctx, key)
		return db.KvStore{}, sql.ErrNoRows
	}

	return row, nil
}

// Get decodes the value stored under key into dest.
func (s *KVStore) Get(ctx context.Context, key string, dest any) error {
	row, err := s.load(ctx, key)
	if err != nil {
		return fmt.Errorf("kv get %q: %w", key, err)
	}

	if err := json.Unmarshal(row.Value, dest); err != nil {
		return fmt.Errorf("kv get %q: decode: %w", key, err)
	}
	return nil
}

// Set stores value under key with no expiry.
func (s *KVStore) Set(ctx context.Context, key string, value any) error {
	return s.write(ctx, key, value, sql.NullInt64{})
}

// SetTTL stores value under key until ttl elapses.
func (s *KVStore) SetTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return s.write(ctx, key, value, sql.NullInt64{Int64: s.now().Add(ttl).UnixNano(), Valid: true})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.db.Queries().KVDelete(ctx, key); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

// Has reports whether a live value exists for key.
func (s *KVStore) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.load(ctx, key)
	if IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv has %q: %w", key, err)
	}
	return true, nil
}

// ListKeys returns all live keys in sorted order.
func (s *KVStore) ListKeys(ctx context.Context) ([]string, error) {
	keys, err := s.db.Queries().KVListKeys(ctx, sql.NullInt64{Int64: s.now().UnixNano(), Valid: true})
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	return keys, nil
}

// GetRaw returns the undecoded entry with its timestamps.
func (s *KVStore) GetRaw(ctx context.Context, key string) (kv.Entry, error) {
	row, err := s.load(ctx, key)
	if err != nil {
		return kv.Entry{}, fmt.Errorf("kv get raw %q: %w", key, err)
	}

	entry := kv.Entry{
		Key:       row.Key,
		Value:     json.RawMessage(row.Value),
		CreatedAt: time.Unix(0, row.CreatedAt),
		UpdatedAt: time.Unix(0, row.UpdatedAt),
	}
	if row.ExpiresAt.Valid {
		exp := time.Unix(0, row.ExpiresAt.Int64)
		entry.ExpiresAt = &exp
	}
	return entry, nil
}

// SweepExpired deletes every entry whose TTL has passed.
func (s *KVStore) SweepExpired(ctx context.Context) error {
	if err := s.db.Queries().KVSweepExpired(ctx, sql.NullInt64{Int64: s.now().UnixNano(), Valid: true}); err != nil {
		return fmt.Errorf("kv sweep expired: %w", err)
	}
	return nil
}

// Claim takes key for owner until ttl elapses. It succeeds when key is free,
// expired, or already held by owner, in which case the expiry is extended.
// Processes sharing the database see the same claims.
func (s *KVStore) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(owner)
	if err != nil {
		return false, fmt.Errorf("kv claim %q: encode: %w", key, err)
	}

	now := s.now()
	held, err := s.db.Queries().KVClaim(ctx, db.KVSetParams{
		Key:       key,
		Value:     data,
		ExpiresAt: sql.NullInt64{Int64: now.Add(ttl).UnixNano(), Valid: true},
		CreatedAt: now.UnixNano(),
		UpdatedAt: now.UnixNano(),
	})
	if err != nil {
		return false, fmt.Errorf("kv claim %q: %w", key, err)
	}
	return held, nil
}

// Release gives up a claim. Releasing a claim held by someone else is a no-op.
func (s *KVStore) Release(ctx context.Context, key, owner string) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("kv release %q: encode: %w", key, err)
	}
	if err := s.db.Queries().KVDeleteIfValue(ctx, key, data); err != nil {
		return fmt.Errorf("kv release %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) write(ctx context.Context, key string, value any, expiresAt sql.NullInt64) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv set %q: encode: %w", key, err)
	}

	now := s.now().UnixNano()
	err = s.db.Queries().KVSet(ctx, db.KVSetParams{
		Key:       key,
		Value:     data,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}
