package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook copies client_id and entry_id from the event's context onto
// the log line. Attach the context with zerolog's Event.Ctx.
type ContextHook struct{}

// Run implements zerolog.Hook.
func (ContextHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	ctx := e.GetCtx()
	if ctx == nil || ctx == context.Background() {
		return
	}

	if id := ClientID(ctx); id != "" {
		e.Str("client_id", id)
	}
	if id := EntryID(ctx); id != "" {
		e.Str("entry_id", id)
	}
}
