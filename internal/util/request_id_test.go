package util

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestIDKeepsProvidedID(t *testing.T) {
	const incoming = "req-incoming-123"
	ctx := WithRequestID(context.Background(), incoming)
	if got := RequestIDFromContext(ctx); got != incoming {
		t.Fatalf("unexpected request id in context: got %q want %q", got, incoming)
	}
	if again := EnsureRequestID(ctx); RequestIDFromContext(again) != incoming {
		t.Fatalf("EnsureRequestID replaced an existing id")
	}
}

func TestWithRequestIDGeneratesWhenMissing(t *testing.T) {
	ctx := EnsureRequestID(context.Background())
	if got := RequestIDFromContext(ctx); got == "" {
		t.Fatal("expected generated request id in context")
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("bare context should yield empty id, got %q", got)
	}
}

func TestLoggingTransportStampsRequestID(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	InitLoggerTo(&buf, "info")

	client := &http.Client{Transport: NewLoggingTransport("test", nil)}
	ctx := WithRequestID(context.Background(), "req-42")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/books/", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()

	if seen != "req-42" {
		t.Fatalf("server saw request id %q, want req-42", seen)
	}
	if req.Header.Get(RequestIDHeader) != "" {
		t.Fatalf("transport mutated caller request headers")
	}

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("decode log record %q: %v", line, err)
	}
	if record["msg"] != "http_request" || record["path"] != "/books/" || record["request_id"] != "req-42" {
		t.Fatalf("unexpected log record: %v", record)
	}
	if status, _ := record["status"].(float64); status != http.StatusNoContent {
		t.Fatalf("unexpected status in log: %v", record["status"])
	}
}
