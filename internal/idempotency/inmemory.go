package idempotency

import (
	"context"
	"sync"
	"time"
)

// slot holds the record and the in-flight claim for one cart.
type slot struct {
	entry        *Entry
	entryExpires time.Time
	claimOwner   string
	claimExpires time.Time
}

func (s slot) empty(now time.Time) bool {
	return s.entry == nil && !s.claimed(now)
}

func (s slot) claimed(now time.Time) bool {
	return s.claimOwner != "" && now.Before(s.claimExpires)
}

// InMemoryStore serves single-process runs and tests.
type InMemoryStore struct {
	mu    sync.Mutex
	slots map[string]slot
	now   func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		slots: make(map[string]slot),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Get(_ context.Context, scope, key string) (Entry, bool, error) {
	id, _, err := storeKey(scope, key, "", false)
	if err != nil {
		return Entry{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.load(id)
	if current.entry == nil {
		return Entry{}, false, nil
	}
	return *current.entry, true, nil
}

func (s *InMemoryStore) Claim(_ context.Context, scope, key, owner string, ttl time.Duration) (bool, error) {
	id, owner, err := storeKey(scope, key, owner, true)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	current := s.load(id)
	if current.claimed(now) {
		return false, nil
	}
	current.claimOwner = owner
	current.claimExpires = now.Add(ttl)
	s.slots[id] = current
	return true, nil
}

func (s *InMemoryStore) Commit(_ context.Context, scope, key, owner string, entry Entry, ttl time.Duration) error {
	id, owner, err := storeKey(scope, key, owner, true)
	if err != nil {
		return err
	}
	if err := entry.validate(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultEntryTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.load(id)
	current.entry = &entry
	current.entryExpires = s.now().Add(ttl)
	if current.claimOwner == owner {
		current.claimOwner = ""
	}
	s.slots[id] = current
	return nil
}

// Release drops owner's claim; another owner's claim is left alone.
func (s *InMemoryStore) Release(_ context.Context, scope, key, owner string) error {
	id, owner, err := storeKey(scope, key, owner, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.load(id)
	if current.claimOwner != owner {
		return nil
	}
	current.claimOwner = ""
	s.store(id, current)
	return nil
}

// load returns the slot for id with expired parts cleared. Callers hold s.mu.
func (s *InMemoryStore) load(id string) slot {
	current := s.slots[id]
	now := s.now()
	if current.entry != nil && !now.Before(current.entryExpires) {
		current.entry = nil
	}
	if !current.claimed(now) {
		current.claimOwner = ""
	}
	s.store(id, current)
	return current
}

func (s *InMemoryStore) store(id string, current slot) {
	if current.empty(s.now()) {
		delete(s.slots, id)
		return
	}
	s.slots[id] = current
}
