package security

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestAuditLogger_WritesRedactedJSONL(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewAuditLogger(AuditLoggerConfig{
		Writer:   &buf,
		Redactor: NewRedactor("hunter2-secret"),
		Now:      func() time.Time { return now },
	})

	meta := map[string]string{"header": "Bearer hunter2-secret"}
	l.Log(AuditEvent{Type: EventAuthFailure, RemoteAddr: "10.0.0.1:5555", Detail: "bad token hunter2-secret", Metadata: meta})
	l.Log(AuditEvent{Type: EventItemDelete, Project: "alpha", ItemID: "m1"})

	if meta["header"] != "Bearer hunter2-secret" {
		t.Fatal("caller metadata was mutated")
	}

	dec := json.NewDecoder(&buf)
	var first, second AuditEvent
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if first.Detail != "bad token "+RedactPlaceholder || first.Metadata["header"] != "Bearer "+RedactPlaceholder {
		t.Fatalf("first = %+v", first)
	}
	if !first.Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v", first.Timestamp)
	}
	if second.Type != EventItemDelete || second.Project != "alpha" || second.ItemID != "m1" {
		t.Fatalf("second = %+v", second)
	}
}

func TestAuditLogger_NilIsNoop(t *testing.T) {
	t.Parallel()

	var l *AuditLogger
	l.Log(AuditEvent{Type: EventOptimize})
}

func TestAuditLogger_OnEvent(t *testing.T) {
	t.Parallel()

	var got []EventType
	l := NewAuditLogger(AuditLoggerConfig{OnEvent: func(e AuditEvent) { got = append(got, e.Type) }})
	l.Log(AuditEvent{Type: EventRateLimit})
	l.Log(AuditEvent{Type: EventTruncate})
	if len(got) != 2 || got[0] != EventRateLimit || got[1] != EventTruncate {
		t.Fatalf("events = %v", got)
	}
}
