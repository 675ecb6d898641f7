package runstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]Run
	now   func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items: make(map[string]Run),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Create(_ context.Context, input CreateInput) (Run, error) {
	if err := validateCreate(input); err != nil {
		return Run{}, err
	}
	now := s.now()
	created := Run{
		ID:           input.ID,
		Requirements: input.Requirements,
		Domain:       input.Domain,
		Status:       StatusRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[input.ID]; exists {
		return Run{}, fmt.Errorf("run %s already exists", input.ID)
	}
	s.items[input.ID] = created
	return created, nil
}

func (s *InMemoryStore) Record(_ context.Context, id string, progress Progress) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.items[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	if run.Status != StatusRunning {
		return Run{}, ErrFinished
	}
	progress.apply(&run)
	run.UpdatedAt = s.now()
	s.items[id] = run
	return run, nil
}

func (s *InMemoryStore) Finish(_ context.Context, input FinishInput) (Run, error) {
	if err := validateFinish(input); err != nil {
		return Run{}, err
	}
	completed := input.Completed
	if completed.IsZero() {
		completed = s.now()
	}
	completed = completed.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.items[input.RunID]
	if !ok {
		return Run{}, ErrNotFound
	}
	if run.Status != StatusRunning {
		return Run{}, ErrFinished
	}
	run.Status = input.Status
	run.ErrorMessage = input.ErrorMessage
	run.UpdatedAt = completed
	run.CompletedAt = &completed
	s.items[input.RunID] = run
	return run, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.items[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return found, nil
}
