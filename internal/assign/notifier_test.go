package assign

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisNotifierPublishesIntent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	notifier := NewRedisNotifierWithClient(client, "attest:assignments")
	defer notifier.Close()

	dueBy := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := notifier.Notify(context.Background(), Intent{
		AssignmentType: TypeApprovalRequested,
		FromRole:       "preparer",
		ToRole:         "approver",
		PhaseContextID: "phase-1",
		VersionID:      "ver_abc",
		Priority:       "normal",
		DueBy:          &dueBy,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	entries, err := client.XRange(context.Background(), "attest:assignments", "-", "+").Result()
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(entries))
	}

	values := entries[0].Values
	if values["assignment_type"] != TypeApprovalRequested {
		t.Fatalf("assignment_type = %v", values["assignment_type"])
	}
	if values["from_role"] != "preparer" || values["to_role"] != "approver" {
		t.Fatalf("handoff = %v -> %v", values["from_role"], values["to_role"])
	}
	if values["version_id"] != "ver_abc" || values["phase_context_id"] != "phase-1" {
		t.Fatalf("subject = %v / %v", values["version_id"], values["phase_context_id"])
	}
	if values["due_by"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("due_by = %v", values["due_by"])
	}
}

func TestRedisNotifierOmitsDueByWhenUnset(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	notifier := NewRedisNotifierWithClient(client, "attest:assignments")
	defer notifier.Close()

	err := notifier.Notify(context.Background(), Intent{
		AssignmentType: TypeChangesRequested,
		FromRole:       "approver",
		ToRole:         "preparer",
		PhaseContextID: "phase-1",
		VersionID:      "ver_abc",
		Priority:       "high",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	entries, err := client.XRange(context.Background(), "attest:assignments", "-", "+").Result()
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(entries))
	}
	if _, ok := entries[0].Values["due_by"]; ok {
		t.Fatal("due_by must be omitted when unset")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	notifier := LogNotifier{}
	if err := notifier.Notify(context.Background(), Intent{
		AssignmentType: TypeReviewCompleted,
		VersionID:      "ver_abc",
	}); err != nil {
		t.Fatalf("log notifier: %v", err)
	}
	if err := notifier.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
