package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ CounterStore = (*RedisStore)(nil)

// RedisStore implements CounterStore on a shared Redis instance so budgets
// hold across replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps a Redis client. The prefix namespaces all limiter keys.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "opsgate"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + ":" + k }

// Incr increments the window counter in one round trip. ExpireNX arms the
// window only on the increment that creates the key, so the window is fixed
// rather than sliding.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := s.key(key)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	ttl := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	d := ttl.Val()
	if d < 0 {
		d = window
	}
	return incr.Val(), d, nil
}

func (s *RedisStore) SetBlock(ctx context.Context, key string, d time.Duration) error {
	return s.client.Set(ctx, s.key(key), 1, d).Err()
}

func (s *RedisStore) BlockTTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		// -1 no expiry, -2 no key. Either way not an active block.
		return 0, nil
	}
	return d, nil
}
