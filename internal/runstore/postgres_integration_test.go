package runstore

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"testing"
	"time"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	t.Cleanup(store.Close)

	id := NewRunID()
	if _, err := store.Create(ctx, CreateInput{ID: id, Requirements: "2 mugs", Domain: "https://shop.test"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := store.Record(ctx, id, Progress{CartID: strPtr("cart_1"), Decision: strPtr("ALLOW_WITH_FLAGS")})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if updated.CartID != "cart_1" || updated.Decision != "ALLOW_WITH_FLAGS" || updated.PlanID != "" {
		t.Fatalf("unexpected progress: %+v", updated)
	}

	finished, err := store.Finish(ctx, FinishInput{RunID: id, Status: StatusFailed, ErrorMessage: "checkout failed"})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != StatusFailed || finished.ErrorMessage != "checkout failed" || finished.CompletedAt == nil {
		t.Fatalf("unexpected finished run: %+v", finished)
	}

	if _, err := store.Finish(ctx, FinishInput{RunID: id, Status: StatusSucceeded}); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished, got %v", err)
	}
	if _, err := store.Get(ctx, "run_missing_"+id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
