package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/storefront/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SelectsDriver(t *testing.T) {
	l, err := New("", "postgres", nil)
	require.NoError(t, err)
	assert.IsType(t, &AdvisoryLocker{}, l)

	l, err = New("", "sqlite", nil)
	require.NoError(t, err)
	assert.IsType(t, &TableLocker{}, l)

	_, err = New(DriverAdvisory, "mysql", nil)
	assert.Error(t, err)

	_, err = New(DriverRedis, "postgres", nil)
	assert.Error(t, err)

	_, err = New("zookeeper", "postgres", nil)
	assert.Error(t, err)
}

func TestTableLocker_InvalidKey(t *testing.T) {
	conn := dbtest.OpenMemory(t, &Row{})
	_, err := NewTableLocker().Acquire(context.Background(), conn, " ", time.Second)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestTableLocker_ReacquireAfterCommit(t *testing.T) {
	conn := dbtest.OpenMemory(t, &Row{})
	locker := NewTableLocker()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tx := conn.Begin()
		require.NoError(t, tx.Error)
		release, err := locker.Acquire(ctx, tx, "invoice:1", time.Second)
		require.NoError(t, err)
		require.NoError(t, tx.Commit().Error)
		require.NoError(t, release(ctx))
	}

	var count int64
	require.NoError(t, conn.Model(&Row{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTableLocker_TimesOutWhileHeld(t *testing.T) {
	conn := dbtest.OpenFile(t, 100, &Row{})
	locker := NewTableLocker()
	ctx := context.Background()

	holder := conn.Begin()
	require.NoError(t, holder.Error)
	_, err := locker.Acquire(ctx, holder, "invoice:1", time.Second)
	require.NoError(t, err)

	waiter := conn.Begin()
	require.NoError(t, waiter.Error)
	_, err = locker.Acquire(ctx, waiter, "invoice:1", 2*time.Second)
	assert.True(t, errors.Is(err, ErrTimeout), "expected timeout, got %v", err)
	waiter.Rollback()

	require.NoError(t, holder.Commit().Error)

	next := conn.Begin()
	require.NoError(t, next.Error)
	_, err = locker.Acquire(ctx, next, "invoice:1", time.Second)
	assert.NoError(t, err)
	require.NoError(t, next.Commit().Error)
}

func TestRedisLocker_NilClient(t *testing.T) {
	assert.Nil(t, NewRedisLocker(nil, time.Second))

	var l *RedisLocker
	_, err := l.Acquire(context.Background(), nil, "invoice:1", time.Second)
	assert.Error(t, err)
}
