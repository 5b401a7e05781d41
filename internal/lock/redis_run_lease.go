package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisRunLease implements RunLease with SET NX PX and a compare-and-delete release.
type RedisRunLease struct {
	client redis.Cmdable
	scope  string
}

// NewRedisRunLease namespaces lease keys as "<scope>:lease:<runID>".
func NewRedisRunLease(client redis.Cmdable, scope string) *RedisRunLease {
	return &RedisRunLease{client: client, scope: scope}
}

func (l *RedisRunLease) Acquire(ctx context.Context, runID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(runID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease for run %s: %w", runID, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisRunLease) Refresh(ctx context.Context, runID, token string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key(runID)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lease for run %s: %w", runID, err)
	}
	return n == 1, nil
}

func (l *RedisRunLease) Release(ctx context.Context, runID, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(runID)}, token).Err(); err != nil {
		return fmt.Errorf("release lease for run %s: %w", runID, err)
	}
	return nil
}

func (l *RedisRunLease) key(runID string) string {
	return l.scope + ":lease:" + runID
}
