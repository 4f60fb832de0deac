package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps cooldown records in Redis as plain keys with a TTL, keyed
// by domain. Expiry is handled server side, so a missing key is the normal
// "cooldown elapsed" case.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore wraps a Redis client as a CooldownStore. A zero ttl falls
// back to DefaultCooldown.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultCooldown
	}
	return &RedisStore{
		client:    client,
		keyPrefix: "cooldown:",
		ttl:       ttl,
	}
}

// LastQueue implements CooldownStore.
func (s *RedisStore) LastQueue(ctx context.Context, domain string) (string, error) {
	queue, err := s.client.Get(ctx, s.keyPrefix+domain).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cooldown get %q: %w", domain, err)
	}
	return queue, nil
}

// Mark implements CooldownStore.
func (s *RedisStore) Mark(ctx context.Context, domain, queue string) error {
	if err := s.client.Set(ctx, s.keyPrefix+domain, queue, s.ttl).Err(); err != nil {
		return fmt.Errorf("cooldown set %q: %w", domain, err)
	}
	return nil
}
