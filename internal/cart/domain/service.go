package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"

	productdomain "github.com/smallbiznis/storefront/internal/product/domain"
)

// Catalog resolves the current product data copied onto cart lines.
type Catalog interface {
	PriceLookup(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]*productdomain.Snapshot, error)
}

type AddItemRequest struct {
	Owner     Owner
	ProductID snowflake.ID
	Quantity  int64
}

type MergeResult struct {
	Cart       *Cart
	Policy     MergePolicy
	Collisions int
	Merged     bool
}

type Service interface {
	GetOrCreate(ctx context.Context, owner Owner) (*Cart, error)
	Get(ctx context.Context, cartID snowflake.ID) (*Cart, error)
	AddItem(ctx context.Context, req AddItemRequest) (*Cart, error)
	UpdateQuantity(ctx context.Context, cartID, productID snowflake.ID, quantity int64) (*Cart, error)
	RemoveItem(ctx context.Context, cartID, productID snowflake.ID) (*Cart, error)
	Clear(ctx context.Context, cartID snowflake.ID) (*Cart, error)
	ApplyDiscount(ctx context.Context, cartID snowflake.ID, code string) (*Cart, error)
	RemoveDiscount(ctx context.Context, cartID snowflake.ID) (*Cart, error)
	RefreshPrices(ctx context.Context, cartID snowflake.ID) (*Cart, int, error)
	MergeOnLogin(ctx context.Context, anonymousID string, userID snowflake.ID) (*MergeResult, error)
}
