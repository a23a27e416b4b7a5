// Package sweep removes expired local state in the background.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Tombstones purges tombstoned records older than a cutoff.
type Tombstones interface {
	PurgeTombstones(ctx context.Context, before time.Time) (int64, error)
}

// Expirer drops expired KV entries.
type Expirer interface {
	SweepExpired(ctx context.Context) error
}

// Once runs a single sweep: tombstones last touched before now-grace and not
// referenced by a pending operation, then expired KV entries.
func Once(ctx context.Context, tombstones Tombstones, kv Expirer, grace time.Duration, now time.Time) (int64, error) {
	purged, err := tombstones.PurgeTombstones(ctx, now.Add(-grace))
	if err != nil {
		return 0, err
	}
	if err := kv.SweepExpired(ctx); err != nil {
		return purged, err
	}
	return purged, nil
}

// Start sweeps every interval until ctx is cancelled.
func Start(ctx context.Context, tombstones Tombstones, kv Expirer, grace, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			purged, err := Once(ctx, tombstones, kv, grace, now)
			if err != nil {
				log.Debug().Err(err).Msg("sweep failed")
				continue
			}
			if purged > 0 {
				log.Debug().Int64("purged", purged).Msg("tombstones purged")
			}
		}
	}
}
