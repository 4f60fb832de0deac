package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore reads identities from a shared Redis collection. Records are
// serialized Identity values addressable by random-key lookup, so any worker
// draws a uniformly random identity without coordinating with the others.
type RedisStore struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisStore wraps a Redis client as an identity Store.
func NewRedisStore(client redis.UniversalClient, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, logger: logger}
}

// Fetch picks one stored identity key uniformly at random and deserializes
// its value. An empty store or an undecodable record yields (nil, nil):
// identity scarcity degrades to "no identity available" rather than failing.
func (s *RedisStore) Fetch(ctx context.Context) (*Identity, error) {
	key, err := s.client.RandomKey(ctx).Result()
	if errors.Is(err, redis.Nil) {
		s.logger.Debug("identity store is empty")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity random key: %w", err)
	}

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Key expired between RANDOMKEY and GET.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity get %q: %w", key, err)
	}

	var id Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		s.logger.Warn("dropping undecodable identity record",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, nil
	}
	return &id, nil
}
