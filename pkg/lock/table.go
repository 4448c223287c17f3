package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/storefront/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Row is one named lock in the app_locks table.
type Row struct {
	Name       string    `gorm:"column:name;primaryKey;size:191"`
	AcquiredAt time.Time `gorm:"column:acquired_at;not null"`
}

func (Row) TableName() string { return "app_locks" }

// TableLocker takes a row lock on app_locks. It works on any dialect with
// row-level or database-level write locking. The first statement is a write
// so that sqlite serializes at acquisition rather than at commit.
type TableLocker struct{}

func NewTableLocker() *TableLocker {
	return &TableLocker{}
}

func (l *TableLocker) Acquire(ctx context.Context, tx *gorm.DB, key string, timeout time.Duration) (Release, error) {
	if err := validate(key, timeout); err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := time.Now().UTC()
	conn := tx.WithContext(lockCtx)
	err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&Row{Name: key, AcquiredAt: now}).Error
	if err == nil {
		res := conn.Model(&Row{}).Where("name = ?", key).Update("acquired_at", now)
		err = res.Error
		if err == nil && res.RowsAffected == 0 {
			err = errors.New("lock row missing after insert")
		}
	}
	if err != nil {
		if lockCtx.Err() != nil || db.IsLockTimeoutErr(err) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}
		return nil, fmt.Errorf("acquire table lock %s: %w", key, err)
	}
	return noopRelease, nil
}
