package lease

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTTL covers shopping plus the approval wait; holders renew while
// they wait.
const DefaultTTL = 5 * time.Minute

var ErrHeld = errors.New("resource is leased by another run")

// Lease is a fenced claim on a resource. When Acquire fails, the returned
// Lease describes the current holder instead; its Token is then zero.
type Lease struct {
	Owner     string
	Token     uint64
	ExpiresAt time.Time
}

type Manager interface {
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (Lease, bool, error)
	Renew(ctx context.Context, resource, owner string, token uint64, ttl time.Duration) (Lease, bool, error)
	Release(ctx context.Context, resource, owner string, token uint64) error
}

// ProfileResource names the lease guarding a Chrome user data dir. Two runs
// sharing a profile would fight over the same cart.
func ProfileResource(userDataDir string) string {
	dir := strings.TrimSpace(userDataDir)
	if dir == "" {
		return "profile:default"
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return "profile:" + filepath.Clean(dir)
}

// Holder is an acquired lease together with what is needed to renew and
// release it.
type Holder struct {
	manager  Manager
	resource string
	owner    string
	ttl      time.Duration
	lease    Lease
}

// Hold acquires resource for owner or fails fast with ErrHeld.
func Hold(ctx context.Context, manager Manager, resource, owner string, ttl time.Duration) (*Holder, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	lease, ok, err := manager.Acquire(ctx, resource, owner, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", resource, err)
	}
	if !ok {
		if lease.Owner != "" {
			return nil, fmt.Errorf("%w: %s held by %s until %s", ErrHeld, resource, lease.Owner, lease.ExpiresAt.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("%w: %s", ErrHeld, resource)
	}
	return &Holder{manager: manager, resource: resource, owner: owner, ttl: ttl, lease: lease}, nil
}

func (h *Holder) Resource() string { return h.resource }

func (h *Holder) Lease() Lease { return h.lease }

// Renew extends the lease. Losing it, for example after expiry and takeover
// by another run, is reported as ErrHeld.
func (h *Holder) Renew(ctx context.Context) error {
	lease, ok, err := h.manager.Renew(ctx, h.resource, h.owner, h.lease.Token, h.ttl)
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", h.resource, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s lost", ErrHeld, h.resource)
	}
	h.lease = lease
	return nil
}

func (h *Holder) Release(ctx context.Context) error {
	if err := h.manager.Release(ctx, h.resource, h.owner, h.lease.Token); err != nil {
		return fmt.Errorf("release lease %s: %w", h.resource, err)
	}
	return nil
}

type request struct {
	resource string
	owner    string
	token    uint64
	ttl      time.Duration
}

// normalize trims and checks manager arguments. Acquire passes withToken
// false; Renew and Release require the token they were handed.
func normalize(resource, owner string, token uint64, ttl time.Duration, withToken bool) (request, error) {
	req := request{resource: strings.TrimSpace(resource), owner: strings.TrimSpace(owner), token: token, ttl: ttl}
	switch {
	case req.resource == "":
		return request{}, errors.New("lease resource is required")
	case req.owner == "":
		return request{}, errors.New("lease owner is required")
	case withToken && token == 0:
		return request{}, errors.New("lease token is required")
	}
	if req.ttl <= 0 {
		req.ttl = DefaultTTL
	}
	return req, nil
}
