package util

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LoggingTransport stamps outgoing requests with a request id and emits a
// structured log record for each round trip.
type LoggingTransport struct {
	service string
	next    http.RoundTripper
}

// NewLoggingTransport wraps next (http.DefaultTransport when nil).
func NewLoggingTransport(service string, next http.RoundTripper) *LoggingTransport {
	service = strings.TrimSpace(service)
	if service == "" {
		service = "unknown"
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &LoggingTransport{service: service, next: next}
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := EnsureRequestID(req.Context())
	requestID := RequestIDFromContext(ctx)
	if req.Header.Get(RequestIDHeader) == "" {
		// RoundTrippers must not mutate the caller's request.
		req = req.Clone(ctx)
		req.Header.Set(RequestIDHeader, requestID)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	attrs := []any{
		"service", t.service,
		"method", req.Method,
		"path", req.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	// The context logger already carries request_id.
	logger := LoggerFromContext(ctx)
	if err != nil {
		logger.Warn("http_request", append(attrs, "err", err)...)
		return nil, err
	}
	level := slog.LevelInfo
	if resp.StatusCode >= 500 {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "http_request", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}
