package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestWithContextCarriesTraceAndUser(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "debug", Format: "json"})
	log.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUser(ctx, "jstump")
	log.LogRequest(ctx, http.MethodPost, "/ajax/example/widget/list.json", http.StatusOK, 5*time.Millisecond)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["trace_id"] != "trace-1" {
		t.Fatalf("expected trace id, got %v", line["trace_id"])
	}
	if line["user"] != "jstump" {
		t.Fatalf("expected user, got %v", line["user"])
	}
	if line["level"] != "info" {
		t.Fatalf("expected info level, got %v", line["level"])
	}
}

func TestLogRequestLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "debug", Format: "json"})
	log.SetOutput(&buf)

	log.LogRequest(context.Background(), http.MethodPost, "/x", http.StatusForbidden, time.Millisecond)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["level"] != "warning" {
		t.Fatalf("expected warning level, got %v", line["level"])
	}
}

func TestTraceIDEmpty(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	if TraceID(ctx) != "" {
		t.Fatalf("expected empty trace id")
	}
	if NewTraceID() == NewTraceID() {
		t.Fatalf("expected unique trace ids")
	}
}
