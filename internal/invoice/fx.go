package invoice

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/invoice/pdf"
	"github.com/smallbiznis/storefront/internal/invoice/repository"
	"github.com/smallbiznis/storefront/internal/invoice/service"
	"github.com/smallbiznis/storefront/pkg/lock"
)

var Module = fx.Module("invoice.service",
	fx.Provide(provideLocker),
	fx.Provide(pdf.NewRenderer),
	fx.Provide(repository.New),
	fx.Provide(service.New),
)

type lockerParams struct {
	fx.In

	Config config.Config
	Redis  *redis.Client `optional:"true"`
}

func provideLocker(p lockerParams) (lock.Locker, error) {
	return lock.New(p.Config.Lock.Driver, p.Config.DBType, p.Redis)
}
