package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyPrincipal contextKey = "principal"
)

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithPrincipal records who is issuing the request. Overrides attribute their
// audit record to this principal when the caller does not name one explicitly.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, keyPrincipal, principal)
}

// Principal extracts the principal from context.
func Principal(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyPrincipal).(string)
	return v, ok && v != ""
}
