package checkpoint

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const entityType = "checkpoint"

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *RedisStore) { s.logger = l }
}

// RedisStore keeps checkpoints as JSON strings under "<scope>:checkpoint:<runID>".
type RedisStore struct {
	client redis.Cmdable
	scope  string
	logger *slog.Logger
}

// NewRedisStore creates a store namespaced by scope, usually the job name.
// The caller owns the Redis client lifecycle.
func NewRedisStore(client redis.Cmdable, scope string, opts ...Option) *RedisStore {
	s := &RedisStore{client: client, scope: scope, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, runID string) (*Checkpoint, bool) {
	data, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get checkpoint", "run_id", runID, "error", err)
		return nil, false
	}

	cp, err := Unmarshal(data)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to decode checkpoint", "run_id", runID, "error", err)
		return nil, false
	}
	return cp, true
}

func (s *RedisStore) Put(ctx context.Context, cp *Checkpoint, runID string, ttl time.Duration) {
	data, err := Marshal(cp)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode checkpoint", "run_id", runID, "error", err)
		return
	}

	if err := s.client.Set(ctx, s.key(runID), data, ttl).Err(); err != nil {
		s.logger.ErrorContext(ctx, "failed to set checkpoint", "run_id", runID, "error", err)
	}
}

func (s *RedisStore) Delete(ctx context.Context, runID string) {
	if err := s.client.Del(ctx, s.key(runID)).Err(); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete checkpoint", "run_id", runID, "error", err)
	}
}

func (s *RedisStore) key(runID string) string {
	return strings.Join([]string{s.scope, entityType, runID}, ":")
}
