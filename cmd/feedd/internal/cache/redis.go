package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "quotecache:"

// Compile-time check to ensure Redis implements Store
var _ Store = (*Redis)(nil)

// Redis is the external-store implementation of Store. TTL handling is
// delegated to Redis expiry; capacity is left to the server's eviction policy.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err()
}

// Close is a no-op: the redis client is shared with the price store, which
// owns its lifecycle.
func (r *Redis) Close() error { return nil }
