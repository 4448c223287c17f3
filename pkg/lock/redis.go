package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultLease       = 30 * time.Second
	redisPollInterval  = 25 * time.Millisecond
	redisLockKeyPrefix = "lock:"
)

// RedisLocker holds a lease in redis. It is not tied to the transaction, so
// the returned Release must run after commit or rollback; the lease bounds
// how long a crashed holder can block others.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
	lease  time.Duration
}

func NewRedisLocker(client *redis.Client, lease time.Duration) *RedisLocker {
	if client == nil {
		return nil
	}
	if lease <= 0 {
		lease = defaultLease
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		lease:  lease,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, _ *gorm.DB, key string, timeout time.Duration) (Release, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if err := validate(key, timeout); err != nil {
		return nil, err
	}

	redisKey := redisLockKeyPrefix + key
	deadline := time.Now().Add(timeout)
	for {
		token, ok, err := l.TryLock(ctx, redisKey, l.lease)
		if err != nil {
			return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.release(ctx, redisKey, token)
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}

		timer := time.NewTimer(redisPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
