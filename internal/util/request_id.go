package util

import (
	"context"
	"strings"
)

type requestIDContextKey string

const (
	// RequestIDHeader carries the correlation id on outgoing API calls.
	RequestIDHeader = "X-Request-Id"

	requestIDCtxKey          = requestIDContextKey("request_id")
	defaultRequestIDFallback = ""
)

// WithRequestID returns ctx carrying requestID, generating one when empty.
// A child slog.Logger carrying "request_id" is stored alongside it so that
// LoggerFromContext picks it up.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		requestID = NewID()
	}
	ctx = context.WithValue(ctx, requestIDCtxKey, requestID)
	logger := LoggerFromContext(ctx).With("request_id", requestID)
	return ContextWithLogger(ctx, logger)
}

// EnsureRequestID keeps an existing request id or attaches a new one.
// Retries of the same logical call should share the id.
func EnsureRequestID(ctx context.Context) context.Context {
	if RequestIDFromContext(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, "")
}

// RequestIDFromContext returns request id from context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return defaultRequestIDFallback
	}
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}
