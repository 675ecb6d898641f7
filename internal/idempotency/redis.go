package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares intent records across agent processes, so two hosts
// shopping the same cart submit one intent between them.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "shopper:idempotency"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, scope, key string) (Entry, bool, error) {
	id, _, err := storeKey(scope, key, "", false)
	if err != nil {
		return Entry{}, false, err
	}
	raw, err := s.client.Get(ctx, s.key("entry", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get intent record: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode intent record: %w", err)
	}
	return entry, true, nil
}

func (s *RedisStore) Claim(ctx context.Context, scope, key, owner string, ttl time.Duration) (bool, error) {
	id, owner, err := storeKey(scope, key, owner, true)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	ok, err := s.client.SetNX(ctx, s.key("claim", id), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim intent key: %w", err)
	}
	return ok, nil
}

// Commit writes the record and drops owner's claim in one script.
func (s *RedisStore) Commit(ctx context.Context, scope, key, owner string, entry Entry, ttl time.Duration) error {
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
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode intent record: %w", err)
	}
	keys := []string{s.key("entry", id), s.key("claim", id)}
	if err := commitScript.Run(ctx, s.client, keys, raw, ttl.Milliseconds(), owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("commit intent record: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, scope, key, owner string) error {
	id, owner, err := storeKey(scope, key, owner, true)
	if err != nil {
		return err
	}
	if err := releaseScript.Run(ctx, s.client, []string{s.key("claim", id)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release intent key: %w", err)
	}
	return nil
}

func (s *RedisStore) key(kind, id string) string {
	return s.prefix + ":" + kind + ":" + id
}

var commitScript = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
if redis.call("GET", KEYS[2]) == ARGV[3] then
  redis.call("DEL", KEYS[2])
end
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
