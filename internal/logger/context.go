package logger

import "context"

// ctxKey is unexported so only this package can install values under it.
type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stores the request ID assigned by the HTTP middleware.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID carried by ctx, or "" outside a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
