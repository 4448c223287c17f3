package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/storefront/pkg/db"
	"gorm.io/gorm"
)

// AdvisoryLocker uses postgres transaction-level advisory locks keyed by a
// 64-bit hash of the lock name.
type AdvisoryLocker struct{}

func NewAdvisoryLocker() *AdvisoryLocker {
	return &AdvisoryLocker{}
}

func (l *AdvisoryLocker) Acquire(ctx context.Context, tx *gorm.DB, key string, timeout time.Duration) (Release, error) {
	if err := validate(key, timeout); err != nil {
		return nil, err
	}

	conn := tx.WithContext(ctx)
	if err := conn.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())).Error; err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}
	if err := conn.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", key).Error; err != nil {
		if db.IsLockTimeoutErr(err) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}
		return nil, fmt.Errorf("acquire advisory lock %s: %w", key, err)
	}
	if err := conn.Exec("SET LOCAL lock_timeout = DEFAULT").Error; err != nil {
		return nil, fmt.Errorf("reset lock timeout: %w", err)
	}
	return noopRelease, nil
}
