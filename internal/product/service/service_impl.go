package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/product/domain"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("product.service"),
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Product, error) {
	p := &domain.Product{
		SellerID:          req.SellerID,
		Name:              strings.TrimSpace(req.Name),
		SeoSlug:           strings.TrimSpace(req.SeoSlug),
		Summary:           strings.TrimSpace(req.Summary),
		Description:       req.Description,
		ThumbnailURL:      strings.TrimSpace(req.ThumbnailURL),
		Type:              req.Type,
		Status:            req.Status,
		Price:             req.Price,
		ComparePrice:      req.ComparePrice,
		ExecutionSteps:    req.ExecutionSteps,
		Faqs:              req.Faqs,
		Attributes:        req.Attributes,
		VariantAttributes: req.VariantAttributes,
		Variants:          req.Variants,
	}
	if len(req.Metadata) > 0 {
		p.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if p.Type == "" {
		p.Type = domain.ProductTypePhysical
	}
	if p.Status == "" {
		p.Status = domain.ProductStatusDraft
	}
	if err := validate(p); err != nil {
		return nil, err
	}

	if err := s.repo.Add(ctx, s.db, p); err != nil {
		return nil, err
	}
	s.log.Info("product created",
		zap.String("product_id", p.ID.String()),
		zap.String("seo_slug", p.SeoSlug),
		zap.Int("variants", len(p.Variants)),
	)
	return p, nil
}

// Update saves the whole product as given. Collections absent from p are
// removed from storage.
func (s *Service) Update(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	if p == nil || p.ID == 0 {
		return nil, domain.ErrInvalidID
	}
	p.Name = strings.TrimSpace(p.Name)
	p.SeoSlug = strings.TrimSpace(p.SeoSlug)
	if err := validate(p); err != nil {
		return nil, err
	}

	err := s.repo.Update(ctx, s.db, p)
	s.metrics.RecordProductSync(ctx, syncOutcome(err))
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, p.ID)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Product, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	p, err := s.repo.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, domain.ErrNotFound
	}
	p, err := s.repo.GetBySlug(ctx, s.db, slug)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidID
	}
	if err := s.repo.Delete(ctx, s.db, id); err != nil {
		return err
	}
	s.log.Info("product deleted", zap.String("product_id", id.String()))
	return nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.Status != nil && !validStatus(*req.Status) {
		return domain.ListResponse{}, domain.ErrInvalidStatus
	}
	filter := domain.ListFilter{
		Query:      strings.TrimSpace(req.Query),
		Status:     req.Status,
		SellerID:   req.SellerID,
		Pagination: req.Pagination,
	}
	items, err := s.repo.GetList(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, int32(req.Pagination.Size()), func(item *domain.ListItem) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID: strconv.FormatInt(item.ID.Int64(), 10),
		})
		if err != nil {
			return ""
		}
		return token
	})

	return domain.ListResponse{
		PageInfo: *pageInfo,
		Products: items,
	}, nil
}

// PriceLookup returns cart snapshots for the live products among ids.
func (s *Service) PriceLookup(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]*domain.Snapshot, error) {
	return s.repo.Snapshot(ctx, s.db, ids)
}

func validate(p *domain.Product) error {
	if p.Name == "" {
		return domain.ErrInvalidName
	}
	if p.Price.IsNegative() {
		return domain.ErrInvalidPrice
	}
	if p.ComparePrice != nil && p.ComparePrice.IsNegative() {
		return domain.ErrInvalidPrice
	}
	if !validStatus(p.Status) {
		return domain.ErrInvalidStatus
	}
	switch p.Type {
	case domain.ProductTypePhysical, domain.ProductTypeDigital, domain.ProductTypeService:
	default:
		return domain.ErrInvalidType
	}
	for _, v := range p.Variants {
		if v != nil && v.Price.IsNegative() {
			return domain.ErrInvalidPrice
		}
	}
	return nil
}

func validStatus(status domain.ProductStatus) bool {
	switch status {
	case domain.ProductStatusDraft, domain.ProductStatusPublished, domain.ProductStatusArchived:
		return true
	}
	return false
}

func syncOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeCommitted
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, domain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrDuplicateSlug), errors.Is(err, domain.ErrInvalidVariantOption):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomePersistence
	}
}
