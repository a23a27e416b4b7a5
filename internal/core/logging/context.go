package logging

import "context"

type contextKey string

const (
	clientIDKey contextKey = "client_id"
	entryIDKey  contextKey = "entry_id"
)

// WithClientID tags ctx with the task client id being processed.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// WithEntryID tags ctx with the pending operation being replayed.
func WithEntryID(ctx context.Context, entryID string) context.Context {
	return context.WithValue(ctx, entryIDKey, entryID)
}

// ClientID returns the client id carried by ctx, or "".
func ClientID(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

// EntryID returns the log entry id carried by ctx, or "".
func EntryID(ctx context.Context) string {
	id, _ := ctx.Value(entryIDKey).(string)
	return id
}
