package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/loom"
)

// Compile-time interface check.
var _ Store = (*Redis)(nil)

// redisKeyPrefix namespaces blob objects: loom:blob:{key}.
const redisKeyPrefix = "loom:blob:"

// Redis is a Store backed by Redis string values. The caller owns the
// client lifecycle.
type Redis struct {
	client redis.Cmdable
}

// NewRedis creates a Redis-backed blob store.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func redisBlobKey(key string) string { return redisKeyPrefix + key }

// Put stores data under the namespaced key, replacing any existing value.
func (r *Redis) Put(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, redisBlobKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("loom/blob: redis set %q: %w", key, err)
	}

	return nil
}

// Get returns the value stored under the namespaced key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, redisBlobKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, loom.ErrBlobNotFound
		}

		return nil, fmt.Errorf("loom/blob: redis get %q: %w", key, err)
	}

	return data, nil
}

// Delete removes the value stored under the namespaced key, if any.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisBlobKey(key)).Err(); err != nil {
		return fmt.Errorf("loom/blob: redis del %q: %w", key, err)
	}

	return nil
}

// Exists reports whether a value is stored under the namespaced key.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, redisBlobKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("loom/blob: redis exists %q: %w", key, err)
	}

	return n > 0, nil
}
