package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

// RedisStore is an optional alternative CheckpointStore backing store for
// multi-instance deployments, adapted from the teacher's
// internal/stream/checkpoint/redis.go. It keeps the most recent envelope
// per tag under a prefixed key; unlike the file store there is no
// filename-as-history, only latest-wins, which is sufficient since the
// coordinator only ever reads the most recent checkpoint per tag.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. ttl of zero disables expiry.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "surreal-sync:checkpoint:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(tag string) string {
	return s.prefix + tag
}

func (s *RedisStore) Save(ctx context.Context, tag string, env syncpkg.CheckpointEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal checkpoint envelope: %w", err)
	}
	if err := s.client.Set(ctx, s.key(tag), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set checkpoint %s: %w", tag, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, tag string) (syncpkg.CheckpointEnvelope, bool, error) {
	data, err := s.client.Get(ctx, s.key(tag)).Bytes()
	if errors.Is(err, redis.Nil) {
		return syncpkg.CheckpointEnvelope{}, false, nil
	}
	if err != nil {
		return syncpkg.CheckpointEnvelope{}, false, fmt.Errorf("redis get checkpoint %s: %w", tag, err)
	}

	var env syncpkg.CheckpointEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return syncpkg.CheckpointEnvelope{}, false, fmt.Errorf("unmarshal checkpoint %s: %w", tag, err)
	}
	return env, true, nil
}

var _ syncpkg.CheckpointStore = (*RedisStore)(nil)
