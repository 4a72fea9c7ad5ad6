package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
)

// stateKey returns the Redis key for a run's snapshot:
// loom:coordinator:{runID}
func stateKey(runID id.RunID) string {
	return "loom:coordinator:" + runID.String()
}

// RedisStore persists coordination state as JSON snapshots in Redis.
// The caller owns the Redis client lifecycle.
type RedisStore struct {
	client redis.Cmdable
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed coordinator state store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, runID id.RunID) (*State, error) {
	data, err := s.client.Get(ctx, stateKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, loom.ErrStateNotFound
		}

		return nil, fmt.Errorf("loom/coordinator: load %s: %w", runID, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("loom/coordinator: decode state of %s: %w", runID, err)
	}

	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, runID id.RunID, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("loom/coordinator: encode state of %s: %w", runID, err)
	}

	if err := s.client.Set(ctx, stateKey(runID), data, 0).Err(); err != nil {
		return fmt.Errorf("loom/coordinator: save %s: %w", runID, err)
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, runID id.RunID) error {
	if err := s.client.Del(ctx, stateKey(runID)).Err(); err != nil {
		return fmt.Errorf("loom/coordinator: delete %s: %w", runID, err)
	}

	return nil
}
