package runstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func strPtr(v string) *string { return &v }

func TestInMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	created, err := store.Create(ctx, CreateInput{ID: "run_1", Requirements: "2 mugs", Domain: "https://shop.test"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != StatusRunning {
		t.Fatalf("expected running, got %s", created.Status)
	}

	now = now.Add(time.Minute)
	updated, err := store.Record(ctx, "run_1", Progress{PlanID: strPtr("plan_1"), Fingerprint: strPtr("abc")})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if updated.PlanID != "plan_1" || updated.Fingerprint != "abc" {
		t.Fatalf("unexpected progress: %+v", updated)
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at %s, got %s", now, updated.UpdatedAt)
	}

	updated, err = store.Record(ctx, "run_1", Progress{Decision: strPtr("ALLOW")})
	if err != nil {
		t.Fatalf("record decision: %v", err)
	}
	if updated.PlanID != "plan_1" {
		t.Fatalf("expected nil fields to keep previous values, got %+v", updated)
	}

	finished, err := store.Finish(ctx, FinishInput{RunID: "run_1", Status: StatusSucceeded})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.CompletedAt == nil || !finished.CompletedAt.Equal(now) {
		t.Fatalf("expected completed_at %s, got %v", now, finished.CompletedAt)
	}

	if _, err := store.Record(ctx, "run_1", Progress{IntentID: strPtr("intent_x")}); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished after finish, got %v", err)
	}
	if _, err := store.Finish(ctx, FinishInput{RunID: "run_1", Status: StatusFailed}); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished on second finish, got %v", err)
	}
}

func TestInMemoryStoreValidation(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, CreateInput{ID: "run_1"}); err == nil {
		t.Fatalf("expected missing requirements to fail")
	}
	if _, err := store.Create(ctx, CreateInput{ID: "run_1", Requirements: "tea"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, CreateInput{ID: "run_1", Requirements: "tea"}); err == nil {
		t.Fatalf("expected duplicate id to fail")
	}
	if _, err := store.Finish(ctx, FinishInput{RunID: "run_1", Status: StatusRunning}); err == nil {
		t.Fatalf("expected non-terminal finish status to fail")
	}
	if _, err := store.Get(ctx, "run_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Record(ctx, "run_missing", Progress{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on record, got %v", err)
	}
}

func TestNewRunID(t *testing.T) {
	t.Parallel()

	id := NewRunID()
	if !strings.HasPrefix(id, "run_") || len(id) != len("run_")+32 {
		t.Fatalf("unexpected run id %q", id)
	}
	if id == NewRunID() {
		t.Fatalf("expected unique run ids")
	}
}
