package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

type ListFilter struct {
	Query    string
	Status   *ProductStatus
	SellerID *snowflake.ID
	pagination.Pagination
}

// ListItem is the list projection of a product.
type ListItem struct {
	ID           snowflake.ID    `json:"id"`
	Name         string          `json:"name"`
	SeoSlug      string          `json:"seo_slug"`
	ThumbnailURL string          `json:"thumbnail_url,omitempty"`
	Status       ProductStatus   `json:"status"`
	Price        decimal.Decimal `json:"price"`
	MinPrice     decimal.Decimal `json:"min_price"`
	VariantCount int             `json:"variant_count"`
	SellerCount  int             `json:"seller_count"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Repository interface {
	Add(ctx context.Context, db *gorm.DB, p *Product) error
	GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	GetBySlug(ctx context.Context, db *gorm.DB, slug string) (*Product, error)
	// Update saves p when the stored version still equals p.Version and
	// reconciles every child collection against the stored rows.
	Update(ctx context.Context, db *gorm.DB, p *Product) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	GetList(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*ListItem, error)
	Snapshot(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]*Snapshot, error)
}
