package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisManager lets runs on different hosts share a profile directory
// (for example over NFS) without driving the same cart at once. A lease is
// stored as "owner|token" under a PX expiry, so renew and release only
// succeed for the exact holder.
type RedisManager struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisManager(client redis.Cmdable, prefix string) *RedisManager {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "shopper:lease"
	}
	return &RedisManager{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *RedisManager) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (Lease, bool, error) {
	req, err := normalize(resource, owner, 0, ttl, false)
	if err != nil {
		return Lease{}, false, err
	}

	token, err := m.client.Incr(ctx, m.key("seq", req.resource)).Uint64()
	if err != nil {
		return Lease{}, false, fmt.Errorf("next lease token: %w", err)
	}

	reply, err := acquireScript.Run(ctx, m.client, []string{m.key("hold", req.resource)}, holderValue(req.owner, token), req.ttl.Milliseconds()).Slice()
	if err != nil {
		return Lease{}, false, fmt.Errorf("acquire lease: %w", err)
	}
	if len(reply) != 3 {
		return Lease{}, false, fmt.Errorf("acquire lease: unexpected reply %v", reply)
	}
	granted, _ := reply[0].(int64)
	value, _ := reply[1].(string)
	remaining, _ := reply[2].(int64)

	if granted == 1 {
		return Lease{Owner: req.owner, Token: token, ExpiresAt: m.now().Add(req.ttl)}, true, nil
	}
	current := Lease{Owner: holderOwner(value)}
	if remaining > 0 {
		current.ExpiresAt = m.now().Add(time.Duration(remaining) * time.Millisecond)
	}
	return current, false, nil
}

func (m *RedisManager) Renew(ctx context.Context, resource, owner string, token uint64, ttl time.Duration) (Lease, bool, error) {
	req, err := normalize(resource, owner, token, ttl, true)
	if err != nil {
		return Lease{}, false, err
	}

	renewed, err := renewScript.Run(ctx, m.client, []string{m.key("hold", req.resource)}, holderValue(req.owner, req.token), req.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Lease{}, false, fmt.Errorf("renew lease: %w", err)
	}
	if renewed == 0 {
		return Lease{}, false, nil
	}
	return Lease{Owner: req.owner, Token: req.token, ExpiresAt: m.now().Add(req.ttl)}, true, nil
}

func (m *RedisManager) Release(ctx context.Context, resource, owner string, token uint64) error {
	req, err := normalize(resource, owner, token, 0, true)
	if err != nil {
		return err
	}
	err = releaseScript.Run(ctx, m.client, []string{m.key("hold", req.resource)}, holderValue(req.owner, req.token)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (m *RedisManager) key(kind, resource string) string {
	return m.prefix + ":" + kind + ":" + resource
}

func holderValue(owner string, token uint64) string {
	return owner + "|" + strconv.FormatUint(token, 10)
}

func holderOwner(value string) string {
	if i := strings.LastIndexByte(value, '|'); i >= 0 {
		return value[:i]
	}
	return value
}

// acquireScript returns {granted, current holder, remaining ms}.
var acquireScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return {1, ARGV[1], tonumber(ARGV[2])}
end
local holder = redis.call("GET", KEYS[1]) or ""
return {0, holder, redis.call("PTTL", KEYS[1])}
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
