package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/golang/snappy"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/storefront/internal/cart/domain"
	"github.com/smallbiznis/storefront/internal/config"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, time.Minute), mr, client
}

func sampleCart() *domain.Cart {
	user := snowflake.ID(77)
	return &domain.Cart{
		ID:       snowflake.ID(1234),
		UserID:   &user,
		Currency: "USD",
		Items: []*domain.Item{{
			ID:          snowflake.ID(1),
			CartID:      snowflake.ID(1234),
			ProductID:   snowflake.ID(9),
			ProductName: "Mug",
			Price:       decimal.RequireFromString("7.25"),
			Quantity:    2,
		}},
	}
}

func TestSetThenGet(t *testing.T) {
	c, mr, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sampleCart()))
	assert.True(t, mr.Exists("cart:1234"))

	ttl := mr.TTL("cart:1234")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, time.Minute+maxJitter)

	got, err := c.Get(ctx, snowflake.ID(1234))
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, snowflake.ID(77), *got.UserID)
	assert.True(t, got.Subtotal().Equal(decimal.RequireFromString("14.50")))
}

func TestStoredPayloadIsSnappyJSON(t *testing.T) {
	c, mr, _ := setupTestRedis(t)
	require.NoError(t, c.Set(context.Background(), sampleCart()))

	stored, err := mr.Get("cart:1234")
	require.NoError(t, err)
	raw, err := snappy.Decode(nil, []byte(stored))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"product_name":"Mug"`)
}

func TestGetMiss(t *testing.T) {
	c, _, _ := setupTestRedis(t)
	_, err := c.Get(context.Background(), snowflake.ID(1))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGetCorruptPayload(t *testing.T) {
	c, mr, _ := setupTestRedis(t)
	require.NoError(t, mr.Set("cart:5", "not snappy"))
	_, err := c.Get(context.Background(), snowflake.ID(5))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestDelete(t *testing.T) {
	c, mr, _ := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, sampleCart()))
	require.NoError(t, c.Delete(ctx, snowflake.ID(1234)))
	assert.False(t, mr.Exists("cart:1234"))
}

func TestGetRedisDown(t *testing.T) {
	c, mr, _ := setupTestRedis(t)
	mr.Close()
	_, err := c.Get(context.Background(), snowflake.ID(1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *RedisCache
	ctx := context.Background()
	_, err := c.Get(ctx, snowflake.ID(1))
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, c.Set(ctx, sampleCart()))
	assert.NoError(t, c.Delete(ctx, snowflake.ID(1)))
	assert.Nil(t, NewRedisCache(nil, time.Minute))
}

func TestProvide(t *testing.T) {
	_, _, client := setupTestRedis(t)

	off := Provide(Params{Config: config.Config{}, Redis: client})
	assert.Nil(t, off.(*RedisCache))

	cfg := config.Config{}
	cfg.Redis.CartCacheEnabled = true
	assert.Nil(t, Provide(Params{Config: cfg}).(*RedisCache))

	on := Provide(Params{Config: cfg, Redis: client}).(*RedisCache)
	require.NotNil(t, on)
	assert.Equal(t, defaultTTL, on.ttl)
}
