// Package cache keeps recently read carts in redis. Payloads are JSON
// compressed with snappy.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/snappy"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/smallbiznis/storefront/internal/cart/domain"
	"github.com/smallbiznis/storefront/internal/config"
)

const (
	defaultTTL = 15 * time.Minute
	maxJitter  = 5 * time.Minute
	keyPrefix  = "cart:"
)

var ErrCacheMiss = errors.New("cache_miss")

type Cache interface {
	Get(ctx context.Context, id snowflake.ID) (*domain.Cart, error)
	Set(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, id snowflake.ID) error
}

// RedisCache is safe to use as a nil pointer: every read misses and every
// write is a no-op.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

type Params struct {
	fx.In

	Config config.Config
	Redis  *redis.Client `optional:"true"`
}

// Provide returns a disabled cache unless redis is configured and the cart
// cache is switched on.
func Provide(p Params) Cache {
	if p.Redis == nil || !p.Config.Redis.CartCacheEnabled {
		return (*RedisCache)(nil)
	}
	return NewRedisCache(p.Redis, p.Config.Redis.CartCacheTTL)
}

func (c *RedisCache) Get(ctx context.Context, id snowflake.ID) (*domain.Cart, error) {
	if c == nil {
		return nil, ErrCacheMiss
	}
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	var cart domain.Cart
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &cart, nil
}

func (c *RedisCache) Set(ctx context.Context, cart *domain.Cart) error {
	if c == nil || cart == nil || cart.ID == 0 {
		return nil
	}
	raw, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	ttl := c.ttl + rand.N(maxJitter)
	if err := c.client.Set(ctx, key(cart.ID), snappy.Encode(nil, raw), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, id snowflake.ID) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func key(id snowflake.ID) string {
	return keyPrefix + id.String()
}
