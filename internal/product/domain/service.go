package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Product, error)
	Update(ctx context.Context, p *Product) (*Product, error)
	Get(ctx context.Context, id snowflake.ID) (*Product, error)
	GetBySlug(ctx context.Context, slug string) (*Product, error)
	Delete(ctx context.Context, id snowflake.ID) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	PriceLookup(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]*Snapshot, error)
}

type CreateRequest struct {
	SellerID          *snowflake.ID       `json:"seller_id"`
	Name              string              `json:"name"`
	SeoSlug           string              `json:"seo_slug"`
	Summary           string              `json:"summary"`
	Description       string              `json:"description"`
	ThumbnailURL      string              `json:"thumbnail_url"`
	Type              ProductType         `json:"type"`
	Status            ProductStatus       `json:"status"`
	Price             decimal.Decimal     `json:"price"`
	ComparePrice      *decimal.Decimal    `json:"compare_price"`
	Metadata          map[string]any      `json:"metadata"`
	ExecutionSteps    []*ExecutionStep    `json:"execution_steps"`
	Faqs              []*Faq              `json:"faqs"`
	Attributes        []*Attribute        `json:"attributes"`
	VariantAttributes []*VariantAttribute `json:"variant_attributes"`
	Variants          []*Variant          `json:"variants"`
}

type ListRequest struct {
	Query    string
	Status   *ProductStatus
	SellerID *snowflake.ID
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Products []*ListItem `json:"products"`
}
