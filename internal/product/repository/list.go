package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/product/domain"
	"github.com/smallbiznis/storefront/pkg/db/option"
)

type listRow struct {
	ID           snowflake.ID
	SellerID     *snowflake.ID
	Name         string
	SeoSlug      string
	ThumbnailURL string
	Status       domain.ProductStatus
	Price        decimal.Decimal
	CreatedAt    time.Time
}

type variantRow struct {
	ProductID snowflake.ID
	SellerID  *snowflake.ID
	Price     decimal.Decimal
}

// GetList pages over products newest first. Variant counts, seller counts
// and minimum prices are computed in memory from one narrow variant query.
func (r *repo) GetList(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.ListItem, error) {
	stmt := conn.WithContext(ctx).
		Model(&domain.Product{}).
		Select("id", "seller_id", "name", "seo_slug", "thumbnail_url", "status", "price", "created_at")

	if q := strings.TrimSpace(filter.Query); q != "" {
		stmt = stmt.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(q)+"%")
	}
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.SellerID != nil {
		stmt = stmt.Where(
			"seller_id = ? OR id IN (SELECT product_id FROM product_variants WHERE seller_id = ? AND deleted_at IS NULL)",
			*filter.SellerID, *filter.SellerID,
		)
	}
	stmt = option.ApplyPagination(filter.Pagination).Apply(stmt)

	var rows []listRow
	if err := stmt.Order("id DESC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if len(rows) == 0 {
		return []*domain.ListItem{}, nil
	}

	ids := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var variants []variantRow
	err := conn.WithContext(ctx).Raw(
		`SELECT product_id, seller_id, price FROM product_variants
		 WHERE product_id IN ? AND deleted_at IS NULL`,
		ids,
	).Scan(&variants).Error
	if err != nil {
		return nil, fmt.Errorf("list product variants: %w", err)
	}

	type stats struct {
		count   int
		sellers map[snowflake.ID]struct{}
		min     *decimal.Decimal
	}
	byProduct := make(map[snowflake.ID]*stats, len(rows))
	for _, v := range variants {
		st := byProduct[v.ProductID]
		if st == nil {
			st = &stats{sellers: map[snowflake.ID]struct{}{}}
			byProduct[v.ProductID] = st
		}
		st.count++
		if v.SellerID != nil {
			st.sellers[*v.SellerID] = struct{}{}
		}
		if st.min == nil || v.Price.LessThan(*st.min) {
			price := v.Price
			st.min = &price
		}
	}

	out := make([]*domain.ListItem, 0, len(rows))
	for _, row := range rows {
		item := &domain.ListItem{
			ID:           row.ID,
			Name:         row.Name,
			SeoSlug:      row.SeoSlug,
			ThumbnailURL: row.ThumbnailURL,
			Status:       row.Status,
			Price:        row.Price,
			MinPrice:     row.Price,
			CreatedAt:    row.CreatedAt,
		}
		sellers := map[snowflake.ID]struct{}{}
		if row.SellerID != nil {
			sellers[*row.SellerID] = struct{}{}
		}
		if st := byProduct[row.ID]; st != nil {
			item.VariantCount = st.count
			for id := range st.sellers {
				sellers[id] = struct{}{}
			}
			if st.min != nil {
				item.MinPrice = *st.min
			}
		}
		item.SellerCount = len(sellers)
		out = append(out, item)
	}
	return out, nil
}

// Snapshot returns cart data for the live products among ids.
func (r *repo) Snapshot(ctx context.Context, conn *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]*domain.Snapshot, error) {
	out := make(map[snowflake.ID]*domain.Snapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var products []*domain.Product
	err := conn.WithContext(ctx).
		Select("id", "name", "seo_slug", "thumbnail_url", "type", "status", "price", "compare_price").
		Where("id IN ?", ids).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("product snapshot: %w", err)
	}
	for _, p := range products {
		out[p.ID] = &domain.Snapshot{
			ID:           p.ID,
			Name:         p.Name,
			Slug:         p.SeoSlug,
			ThumbnailURL: p.ThumbnailURL,
			Type:         p.Type,
			Price:        p.Price,
			ComparePrice: p.ComparePrice,
			Available:    p.Available(),
		}
	}
	return out, nil
}
