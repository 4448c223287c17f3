// Package cache owns the shared redis client used by the cart cache and the
// redis lock driver.
package cache

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/storefront/internal/config"
)

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// NewRedisClient returns nil when no redis address is configured. Consumers
// take the client as optional and fall back to their non-redis behavior.
func NewRedisClient(p Params) *redis.Client {
	addr := strings.TrimSpace(p.Config.Redis.Addr)
	if addr == "" {
		p.Log.Info("redis disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Config.Redis.Password),
		DB:       p.Config.Redis.DB,
	})

	log := p.Log.Named("redis")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", addr), zap.Error(err))
				return err
			}
			log.Info("redis connected", zap.String("addr", addr), zap.Int("db", p.Config.Redis.DB))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}
