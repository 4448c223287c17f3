package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/smallbiznis/storefront/internal/config"
)

func TestNewRedisClientDisabledWithoutAddr(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	client := NewRedisClient(Params{Lifecycle: lc, Config: config.Config{}, Log: zap.NewNop()})
	assert.Nil(t, client)
	lc.RequireStart().RequireStop()
}

func TestNewRedisClientConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	var cfg config.Config
	cfg.Redis.Addr = mr.Addr()

	lc := fxtest.NewLifecycle(t)
	client := NewRedisClient(Params{Lifecycle: lc, Config: cfg, Log: zap.NewNop()})
	require.NotNil(t, client)
	lc.RequireStart()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	lc.RequireStop()
}

func TestNewRedisClientFailsStartWhenUnreachable(t *testing.T) {
	var cfg config.Config
	cfg.Redis.Addr = "127.0.0.1:1"

	lc := fxtest.NewLifecycle(t)
	require.NotNil(t, NewRedisClient(Params{Lifecycle: lc, Config: cfg, Log: zap.NewNop()}))
	assert.Error(t, lc.Start(context.Background()))
}
