package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScopeIntent keys payment intents by cart fingerprint.
const ScopeIntent = "paytato:intent"

const (
	DefaultClaimTTL = 2 * time.Minute
	DefaultEntryTTL = 24 * time.Hour
)

var ErrInFlight = errors.New("submission for this key is already in flight")

// Entry records the intent created for a cart, so the same cart is never
// submitted twice.
type Entry struct {
	IntentID    string    `json:"intent_id"`
	Status      string    `json:"status"`
	RunID       string    `json:"run_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`

	// ExpiresAt mirrors the cart's expiry; the intent is stale after it.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Completed is set once a payment outcome was reported for the intent.
	Completed bool `json:"completed,omitempty"`
}

// Reusable reports whether a later run may reuse the intent at now.
func (e Entry) Reusable(now time.Time) bool {
	if e.Completed {
		return false
	}
	return e.ExpiresAt.IsZero() || now.Before(e.ExpiresAt)
}

// Store keeps one intent record per cart. A run claims the key before
// submitting, then either commits the record (which also drops its claim)
// or releases the claim after a failed submission.
type Store interface {
	Get(ctx context.Context, scope, key string) (Entry, bool, error)
	Claim(ctx context.Context, scope, key, owner string, ttl time.Duration) (bool, error)
	Commit(ctx context.Context, scope, key, owner string, entry Entry, ttl time.Duration) error
	Release(ctx context.Context, scope, key, owner string) error
}

func (e Entry) validate() error {
	if strings.TrimSpace(e.IntentID) == "" {
		return errors.New("intent id is required")
	}
	return nil
}

type Options struct {
	ClaimTTL time.Duration
	EntryTTL time.Duration
	// Wait is how long to wait for another holder's entry before giving up
	// with ErrInFlight.
	Wait time.Duration
	// Owner names the claim, normally the run id. Empty gets a random one.
	Owner string

	// Reuse decides whether a cached entry is returned. A rejected entry is
	// replaced by a fresh submission. Nil reuses every entry.
	Reuse func(Entry) bool
}

func (o Options) reusable(entry Entry) bool {
	return o.Reuse == nil || o.Reuse(entry)
}

// Once returns the entry saved under key, or runs submit while holding the
// claim and saves its result. The boolean reports a cached entry.
func Once(ctx context.Context, store Store, scope, key string, opts Options, submit func(context.Context) (Entry, error)) (Entry, bool, error) {
	if cached, ok, err := store.Get(ctx, scope, key); err != nil {
		return Entry{}, false, err
	} else if ok && opts.reusable(cached) {
		return cached, true, nil
	}

	owner := strings.TrimSpace(opts.Owner)
	if owner == "" {
		owner = "run-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	claimed, err := store.Claim(ctx, scope, key, owner, opts.ClaimTTL)
	if err != nil {
		return Entry{}, false, err
	}
	if !claimed {
		if cached, ok, err := waitForEntry(ctx, store, scope, key, opts); err == nil && ok {
			return cached, true, nil
		}
		return Entry{}, false, ErrInFlight
	}
	committed := false
	defer func() {
		if !committed {
			_ = store.Release(context.Background(), scope, key, owner)
		}
	}()

	entry, err := submit(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	if entry.SubmittedAt.IsZero() {
		entry.SubmittedAt = time.Now().UTC()
	}
	if err := store.Commit(ctx, scope, key, owner, entry, opts.EntryTTL); err != nil {
		return entry, false, err
	}
	committed = true
	return entry, false, nil
}

// waitForEntry polls for a reusable entry while another run holds the claim.
func waitForEntry(ctx context.Context, store Store, scope, key string, opts Options) (Entry, bool, error) {
	if opts.Wait <= 0 {
		entry, ok, err := store.Get(ctx, scope, key)
		if err != nil || !ok || !opts.reusable(entry) {
			return Entry{}, false, err
		}
		return entry, true, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		entry, ok, err := store.Get(waitCtx, scope, key)
		if err != nil {
			return Entry{}, false, err
		}
		if ok && opts.reusable(entry) {
			return entry, true, nil
		}

		select {
		case <-waitCtx.Done():
			return Entry{}, false, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

// storeKey hashes key under scope so raw fingerprints never appear verbatim
// in store keys.
func storeKey(scope, key, owner string, needOwner bool) (string, string, error) {
	scope = strings.TrimSpace(scope)
	key = strings.TrimSpace(key)
	owner = strings.TrimSpace(owner)
	switch {
	case scope == "":
		return "", "", errors.New("scope is required")
	case key == "":
		return "", "", errors.New("key is required")
	case needOwner && owner == "":
		return "", "", errors.New("owner is required")
	}
	sum := sha256.Sum256([]byte(scope + "|" + key))
	return scope + ":" + hex.EncodeToString(sum[:]), owner, nil
}
