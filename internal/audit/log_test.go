package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"dmarcview.org/internal/authz"
	"dmarcview.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = authz.ContextWithSubject(ctx, "alice@example.com")

	if err := LogEvent(ctx, "org.invite", map[string]any{"org": "org-1"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "org.invite" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["subject"] != "alice@example.com" {
		t.Fatalf("unexpected subject: %v", entry["subject"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["org"] != "org-1" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("blank event name accepted")
	}
}

func TestLogEventWithoutContext(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	if err := LogEvent(context.Background(), "domain.create", nil); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if _, present := entry["request_id"]; present {
		t.Fatalf("request_id set without context: %v", entry)
	}
	if _, present := entry["subject"]; present {
		t.Fatalf("subject set without context: %v", entry)
	}
}
