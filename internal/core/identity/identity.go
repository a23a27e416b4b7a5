// Package identity records which server identifier each locally created task
// received when its creation was confirmed.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/colonyops/tasksync/internal/core/kv"
)

// Namespace is the KV namespace holding the mapping.
const Namespace = "idmap"

// ErrConflict is returned when a client id is already mapped to a different
// server id. Mappings are write-once.
var ErrConflict = errors.New("client id already mapped to a different server id")

// Map is a durable clientID -> serverID mapping.
type Map struct {
	entries *kv.TypedKV[string]
}

// New returns a Map stored in the given KV store.
func New(store kv.KV) *Map {
	return &Map{entries: kv.Scoped[string](store, Namespace)}
}

// Set records that clientID was confirmed as serverID. Recording the same
// pair again is a no-op.
func (m *Map) Set(ctx context.Context, clientID, serverID string) error {
	if clientID == "" || serverID == "" {
		return fmt.Errorf("identity set: client id and server id are required")
	}

	existing, ok, err := m.Get(ctx, clientID)
	if err != nil {
		return err
	}
	if ok {
		if existing == serverID {
			return nil
		}
		return fmt.Errorf("%w: %s is %s, refusing %s", ErrConflict, clientID, existing, serverID)
	}

	if err := m.entries.Set(ctx, clientID, serverID); err != nil {
		return fmt.Errorf("identity set %s: %w", clientID, err)
	}
	return nil
}

// Get returns the server id mapped to clientID. The bool is false when no
// mapping exists.
func (m *Map) Get(ctx context.Context, clientID string) (string, bool, error) {
	serverID, err := m.entries.Get(ctx, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("identity get %s: %w", clientID, err)
	}
	return serverID, true, nil
}

// Resolve returns the server id for clientID, falling back to fallback when
// no mapping exists. fallback is typically the id carried on the record.
func (m *Map) Resolve(ctx context.Context, clientID, fallback string) (string, error) {
	serverID, ok, err := m.Get(ctx, clientID)
	if err != nil {
		return "", err
	}
	if ok {
		return serverID, nil
	}
	return fallback, nil
}
