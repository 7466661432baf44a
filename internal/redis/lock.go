package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

var (
	ErrLockNotAcquired = fmt.Errorf("entity lock held elsewhere: %w", fault.ErrTransient)
)

// Locker serializes critical sections per entity across service replicas.
// kind namespaces the key, e.g. "appointment" or "session".
type Locker interface {
	WithLock(ctx context.Context, kind, id string, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker that uses one Redis key per entity
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, kind, id string, fn func(ctx context.Context) error) error {
	key := lockKey(kind, id)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire %s lock: %w: %w", kind, fault.ErrTransient, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func lockKey(kind, id string) string {
	return fmt.Sprintf("lock:%s:%s", kind, id)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
