package cart

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/storefront/internal/cart/cache"
	"github.com/smallbiznis/storefront/internal/cart/domain"
	"github.com/smallbiznis/storefront/internal/cart/repository"
	"github.com/smallbiznis/storefront/internal/cart/service"
	productdomain "github.com/smallbiznis/storefront/internal/product/domain"
)

var Module = fx.Module("cart.service",
	fx.Provide(provideCatalog),
	fx.Provide(cache.Provide),
	fx.Provide(repository.New),
	fx.Provide(service.New),
)

// provideCatalog prices cart lines from the product service.
func provideCatalog(products productdomain.Service) domain.Catalog {
	return products
}
