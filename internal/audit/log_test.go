package audit

import (
	"context"
	"testing"

	"opsgate.io/internal/auth"
)

func TestRecordPersistsAndFillsDefaults(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	store := auth.NewMemoryStore()
	rec := NewRecorder(store, nil)

	rec.Record(ctx, &auth.SecurityEvent{
		Kind:      "login.failed",
		AccountID: "a1",
		Email:     "dev@example.com",
	})

	events, err := rec.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.ID == "" {
		t.Fatal("expected a generated event id")
	}
	if e.OccurredAt.IsZero() {
		t.Fatal("expected a timestamp")
	}
	if e.Fields["request_id"] != "req-123" {
		t.Fatalf("request_id = %q, want req-123", e.Fields["request_id"])
	}
}

func TestRecordIgnoresEmptyKind(t *testing.T) {
	store := auth.NewMemoryStore()
	rec := NewRecorder(store, nil)

	rec.Record(context.Background(), &auth.SecurityEvent{Kind: "  "})
	rec.Record(context.Background(), nil)

	events, err := rec.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events, want 0", len(events))
	}
}

func TestRecordWithoutStoreDoesNotPanic(t *testing.T) {
	rec := NewRecorder(nil, nil)
	rec.Record(context.Background(), &auth.SecurityEvent{Kind: "login.failed"})
	if events, err := rec.Recent(context.Background(), 10); err != nil || events != nil {
		t.Fatalf("Recent = %v, %v", events, err)
	}
}
