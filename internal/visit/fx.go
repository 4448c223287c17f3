package visit

import (
	"github.com/smallbiznis/storefront/internal/visit/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("visit.repository",
	fx.Provide(repository.New),
)
