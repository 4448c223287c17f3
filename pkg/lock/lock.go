// Package lock provides named exclusive locks that serialize work on one
// logical resource across processes. Database-backed lockers are scoped to
// the transaction they are acquired in and are released by commit or
// rollback.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	DriverAdvisory = "advisory"
	DriverTable    = "table"
	DriverRedis    = "redis"
)

var (
	ErrTimeout    = errors.New("lock_timeout")
	ErrInvalidKey = errors.New("invalid_lock_key")
)

// Release frees a lock. Transaction-scoped lockers return a no-op.
type Release func(ctx context.Context) error

type Locker interface {
	// Acquire blocks until the lock named key is held by tx or timeout elapses.
	Acquire(ctx context.Context, tx *gorm.DB, key string, timeout time.Duration) (Release, error)
}

func noopRelease(context.Context) error { return nil }

// New selects a Locker. An empty driver picks the advisory lock on postgres
// and the lock table everywhere else.
func New(driver, dialect string, client *redis.Client) (Locker, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	if driver == "" {
		if dialect == "postgres" {
			driver = DriverAdvisory
		} else {
			driver = DriverTable
		}
	}

	switch driver {
	case DriverAdvisory:
		if dialect != "postgres" {
			return nil, fmt.Errorf("advisory locks require postgres, got %q", dialect)
		}
		return NewAdvisoryLocker(), nil
	case DriverTable:
		return NewTableLocker(), nil
	case DriverRedis:
		if client == nil {
			return nil, errors.New("redis lock driver requires a redis client")
		}
		return NewRedisLocker(client, 0), nil
	default:
		return nil, fmt.Errorf("unsupported lock driver %q", driver)
	}
}

func validate(key string, timeout time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if timeout <= 0 {
		return errors.New("lock timeout must be positive")
	}
	return nil
}
