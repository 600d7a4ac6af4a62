package session

import (
	"context"
	"net/url"
)

// Request describes one call against the remote API. Body is JSON-encoded
// once so the call can be re-dispatched after a refresh.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

type retriedContextKey struct{}

// withRetried marks the call in ctx as already retried after a refresh.
func withRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedContextKey{}, true)
}

// Retried reports whether the call carried by ctx was already retried.
func Retried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedContextKey{}).(bool)
	return retried
}
