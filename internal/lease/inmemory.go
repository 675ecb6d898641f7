package lease

import (
	"context"
	"sync"
	"time"
)

// InMemoryManager guards profiles within one process. Tokens increase
// monotonically across all resources.
type InMemoryManager struct {
	mu     sync.Mutex
	seq    uint64
	leases map[string]Lease
	now    func() time.Time
}

func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{
		leases: make(map[string]Lease),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *InMemoryManager) Acquire(_ context.Context, resource, owner string, ttl time.Duration) (Lease, bool, error) {
	req, err := normalize(resource, owner, 0, ttl, false)
	if err != nil {
		return Lease{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if current, ok := m.live(req.resource, now); ok {
		return Lease{Owner: current.Owner, ExpiresAt: current.ExpiresAt}, false, nil
	}

	m.seq++
	granted := Lease{Owner: req.owner, Token: m.seq, ExpiresAt: now.Add(req.ttl)}
	m.leases[req.resource] = granted
	return granted, true, nil
}

func (m *InMemoryManager) Renew(_ context.Context, resource, owner string, token uint64, ttl time.Duration) (Lease, bool, error) {
	req, err := normalize(resource, owner, token, ttl, true)
	if err != nil {
		return Lease{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	current, ok := m.live(req.resource, now)
	if !ok || !current.heldBy(req) {
		return Lease{}, false, nil
	}
	current.ExpiresAt = now.Add(req.ttl)
	m.leases[req.resource] = current
	return current, true, nil
}

// Release is a no-op unless owner and token match the live lease.
func (m *InMemoryManager) Release(_ context.Context, resource, owner string, token uint64) error {
	req, err := normalize(resource, owner, token, 0, true)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.leases[req.resource]; ok && current.heldBy(req) {
		delete(m.leases, req.resource)
	}
	return nil
}

// live returns the unexpired lease on resource, dropping a stale one.
// Callers hold m.mu.
func (m *InMemoryManager) live(resource string, now time.Time) (Lease, bool) {
	current, ok := m.leases[resource]
	if !ok {
		return Lease{}, false
	}
	if !now.Before(current.ExpiresAt) {
		delete(m.leases, resource)
		return Lease{}, false
	}
	return current, true
}

func (l Lease) heldBy(req request) bool {
	return l.Owner == req.owner && l.Token == req.token
}
