package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/clock"
	obsctx "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/product/domain"
	"github.com/smallbiznis/storefront/pkg/changeset"
	"github.com/smallbiznis/storefront/pkg/db"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *metrics.RepositoryMetrics `optional:"true"`
}

type repo struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *metrics.RepositoryMetrics
}

func New(p Params) domain.Repository {
	r := &repo{
		log:     p.Log.Named("product.repository"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
	if r.clock == nil {
		r.clock = clock.NewSystemClock()
	}
	return r
}

// Add inserts a new product with all of its collections.
func (r *repo) Add(ctx context.Context, conn *gorm.DB, p *domain.Product) error {
	if p == nil {
		return domain.ErrInvalidID
	}
	if p.ID == 0 {
		p.ID = r.genID.Generate()
	}
	if p.Version == 0 {
		p.Version = 1
	}

	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.ensureSlug(ctx, tx, p); err != nil {
			return err
		}
		snap := newSnapshot()
		if err := r.prepare(p, snap); err != nil {
			return err
		}

		now := r.clock.Now()
		actor := obsctx.ActorSnowflake(ctx)
		p.Stamp(actor, now)
		set := changeset.New()
		set.Insert(p)
		r.plan(set, p, snap, actor, now)
		return set.Apply(ctx, tx)
	})
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateSlug
	}
	return err
}

func (r *repo) GetByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	return r.load(ctx, conn, "id = ?", id)
}

func (r *repo) GetBySlug(ctx context.Context, conn *gorm.DB, value string) (*domain.Product, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, domain.ErrNotFound
	}
	return r.load(ctx, conn, "seo_slug = ?", value)
}

// Delete soft-deletes the root. The slug becomes available again.
func (r *repo) Delete(ctx context.Context, conn *gorm.DB, id snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidID
	}
	res := conn.WithContext(ctx).Model(&domain.Product{}).Where("id = ?", id).Updates(map[string]any{
		"deleted_at": r.clock.Now().UTC(),
		"updater_id": obsctx.ActorSnowflake(ctx),
		"version":    gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return fmt.Errorf("delete product: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) load(ctx context.Context, conn *gorm.DB, where string, arg any) (*domain.Product, error) {
	var p domain.Product
	if err := conn.WithContext(ctx).Where(where, arg).Limit(1).Find(&p).Error; err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if p.ID == 0 {
		return nil, nil
	}

	q := func() *gorm.DB {
		return conn.WithContext(ctx).Where("product_id = ?", p.ID)
	}
	if err := q().Order("position ASC").Order("id ASC").Find(&p.ExecutionSteps).Error; err != nil {
		return nil, fmt.Errorf("load execution steps: %w", err)
	}
	if err := q().Order("position ASC").Order("id ASC").Find(&p.Faqs).Error; err != nil {
		return nil, fmt.Errorf("load faqs: %w", err)
	}
	if err := q().Order("id ASC").Find(&p.Attributes).Error; err != nil {
		return nil, fmt.Errorf("load attributes: %w", err)
	}
	if err := q().Order("position ASC").Order("id ASC").Find(&p.VariantAttributes).Error; err != nil {
		return nil, fmt.Errorf("load variant attributes: %w", err)
	}
	if err := q().Order("position ASC").Order("id ASC").Find(&p.Variants).Error; err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}

	var options []*domain.VariantOption
	if err := q().Order("id ASC").Find(&options).Error; err != nil {
		return nil, fmt.Errorf("load variant options: %w", err)
	}
	variants := make(map[snowflake.ID]*domain.Variant, len(p.Variants))
	for _, v := range p.Variants {
		variants[v.ID] = v
	}
	for _, o := range options {
		if v := variants[o.VariantID]; v != nil {
			v.Options = append(v.Options, o)
		}
	}
	return &p, nil
}

// ensureSlug derives the slug from the name when it is empty and rejects
// slugs used by another live product.
func (r *repo) ensureSlug(ctx context.Context, tx *gorm.DB, p *domain.Product) error {
	source := strings.TrimSpace(p.SeoSlug)
	if source == "" {
		source = strings.TrimSpace(p.Name)
	}
	p.SeoSlug = slug.Make(source)
	if p.SeoSlug == "" {
		return domain.ErrInvalidName
	}

	var taken int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM products WHERE seo_slug = ? AND id <> ? AND deleted_at IS NULL`,
		p.SeoSlug, p.ID,
	).Scan(&taken).Error
	if err != nil {
		return fmt.Errorf("check slug: %w", err)
	}
	if taken > 0 {
		return domain.ErrDuplicateSlug
	}
	return nil
}
