package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares the cooldown table across replicas through Redis.
// SETNX with a TTL gives the same acquire-or-suppress semantics as the
// sharded map, with expiry handled server-side.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store over the given Redis address.
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "sentinel:alert:",
	}
}

// NewRedisStoreWithClient wraps an existing client. Test hook.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "sentinel:alert:"}
}

// Allow acquires the cooldown slot for key if no live entry exists.
func (s *RedisStore) Allow(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown setnx: %w", err)
	}
	return ok, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
