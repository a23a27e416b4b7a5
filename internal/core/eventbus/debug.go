package eventbus

import (
	"fmt"

	"github.com/rs/zerolog"
)

// RegisterDebugLogger logs every published event at debug level, dropped
// events as warnings and subscriber panics as errors.
func RegisterDebugLogger(bus *EventBus, logger zerolog.Logger) {
	bus.OnPublish(func(event Event, payload any) {
		ev := logger.Debug().Str("event", string(event))
		switch p := payload.(type) {
		case NetworkChangedPayload:
			ev = ev.Bool("reachable", p.Reachable)
		case TaskRemappedPayload:
			ev = ev.Str("client_id", p.ClientID).Str("server_id", p.ServerID)
		case SyncOpFailedPayload:
			ev = ev.Str("entry_id", p.Entry.ID).Err(p.Err)
		case SyncAnomalyPayload:
			ev = ev.Str("entry_id", p.Entry.ID).Stringer("outcome", p.Outcome).Err(p.Err)
		}
		ev.Msg("event fired")
	})

	bus.OnDrop(func(event Event, _ any) {
		logger.Warn().Str("event", string(event)).Msg("event dropped: buffer full")
	})

	bus.OnPanic(func(event Event, _ any, recovered any) {
		logger.Error().
			Str("event", string(event)).
			Str("panic", fmt.Sprint(recovered)).
			Msg("subscriber panicked")
	})
}
