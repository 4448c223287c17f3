package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/cart/cache"
	"github.com/smallbiznis/storefront/internal/cart/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Catalog  domain.Catalog
	Cache    cache.Cache                  `optional:"true"`
	Commerce *config.CommerceConfigHolder `optional:"true"`
	Metrics  *metrics.Metrics             `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	catalog  domain.Catalog
	cache    cache.Cache
	commerce *config.CommerceConfigHolder
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	s := &Service{
		db:       p.DB,
		log:      p.Log.Named("cart.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		catalog:  p.Catalog,
		cache:    p.Cache,
		commerce: p.Commerce,
		metrics:  p.Metrics,
	}
	if s.clock == nil {
		s.clock = clock.NewSystemClock()
	}
	if s.cache == nil {
		s.cache = (*cache.RedisCache)(nil)
	}
	return s
}

func (s *Service) GetOrCreate(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	return s.getOrCreate(ctx, s.db, owner)
}

func (s *Service) getOrCreate(ctx context.Context, db *gorm.DB, owner domain.Owner) (*domain.Cart, error) {
	if !owner.Valid() {
		return nil, domain.ErrInvalidOwner
	}
	cart, err := s.findByOwner(ctx, db, owner)
	if err != nil || cart != nil {
		return cart, err
	}

	cart = s.newCart(owner)
	if err := s.repo.Add(ctx, db, cart); err != nil {
		return nil, err
	}
	s.log.Debug("cart created", zap.String("cart_id", cart.ID.String()), zap.String("owner", owner.String()))
	return cart, nil
}

func (s *Service) findByOwner(ctx context.Context, db *gorm.DB, owner domain.Owner) (*domain.Cart, error) {
	if owner.UserID != nil && *owner.UserID != 0 {
		return s.repo.GetByUserID(ctx, db, *owner.UserID)
	}
	return s.repo.GetByAnonymousID(ctx, db, strings.TrimSpace(owner.AnonymousID))
}

func (s *Service) newCart(owner domain.Owner) *domain.Cart {
	cart := &domain.Cart{
		ID:          s.genID.Generate(),
		AnonymousID: strings.TrimSpace(owner.AnonymousID),
		Currency:    s.commerce.Get().Invoice.Currency,
	}
	if owner.UserID != nil && *owner.UserID != 0 {
		id := *owner.UserID
		cart.UserID = &id
		cart.AnonymousID = ""
	}
	return cart
}

// Get serves the cart from cache when possible.
func (s *Service) Get(ctx context.Context, cartID snowflake.ID) (*domain.Cart, error) {
	if cartID == 0 {
		return nil, domain.ErrInvalidCartID
	}
	cached, err := s.cache.Get(ctx, cartID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.Warn("cart cache read failed", zap.String("cart_id", cartID.String()), zap.Error(err))
	}

	cart, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, cart); err != nil {
		s.log.Warn("cart cache write failed", zap.String("cart_id", cartID.String()), zap.Error(err))
	}
	return cart, nil
}

func (s *Service) AddItem(ctx context.Context, req domain.AddItemRequest) (*domain.Cart, error) {
	if req.ProductID == 0 {
		return nil, domain.ErrInvalidProduct
	}
	if req.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	products, err := s.catalog.PriceLookup(ctx, []snowflake.ID{req.ProductID})
	if err != nil {
		return nil, err
	}
	product, ok := products[req.ProductID]
	if !ok {
		return nil, domain.ErrInvalidProduct
	}

	cart, err := s.GetOrCreate(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	if err := cart.AddOrIncrement(product, req.Quantity, s.maxPerLine()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, s.db, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Service) UpdateQuantity(ctx context.Context, cartID, productID snowflake.ID, quantity int64) (*domain.Cart, error) {
	return s.modify(ctx, cartID, func(cart *domain.Cart) error {
		return cart.SetQuantity(productID, quantity, s.maxPerLine())
	})
}

func (s *Service) RemoveItem(ctx context.Context, cartID, productID snowflake.ID) (*domain.Cart, error) {
	return s.modify(ctx, cartID, func(cart *domain.Cart) error {
		return cart.Remove(productID)
	})
}

func (s *Service) Clear(ctx context.Context, cartID snowflake.ID) (*domain.Cart, error) {
	return s.modify(ctx, cartID, func(cart *domain.Cart) error {
		cart.Clear()
		return nil
	})
}

func (s *Service) ApplyDiscount(ctx context.Context, cartID snowflake.ID, code string) (*domain.Cart, error) {
	found, err := s.repo.FindDiscountCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, domain.ErrDiscountNotFound
	}
	return s.modify(ctx, cartID, func(cart *domain.Cart) error {
		return cart.ApplyDiscount(found, s.clock.Now())
	})
}

func (s *Service) RemoveDiscount(ctx context.Context, cartID snowflake.ID) (*domain.Cart, error) {
	return s.modify(ctx, cartID, func(cart *domain.Cart) error {
		cart.RemoveDiscount()
		return nil
	})
}

// RefreshPrices copies current catalog data onto every line and returns the
// number of lines whose price changed.
func (s *Service) RefreshPrices(ctx context.Context, cartID snowflake.ID) (*domain.Cart, int, error) {
	changed := 0
	cart, err := s.modify(ctx, cartID, func(cart *domain.Cart) error {
		ids := make([]snowflake.ID, 0, len(cart.Items))
		for _, item := range cart.Items {
			ids = append(ids, item.ProductID)
		}
		if len(ids) == 0 {
			return nil
		}
		products, err := s.catalog.PriceLookup(ctx, ids)
		if err != nil {
			return err
		}
		changed = cart.Reprice(products)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return cart, changed, nil
}

// MergeOnLogin moves the guest cart of anonymousID into the cart of userID
// and deletes the guest cart. Products present in both carts are resolved
// by the configured merge policy.
func (s *Service) MergeOnLogin(ctx context.Context, anonymousID string, userID snowflake.ID) (*domain.MergeResult, error) {
	anonymousID = strings.TrimSpace(anonymousID)
	if anonymousID == "" || userID == 0 {
		return nil, domain.ErrInvalidOwner
	}
	policy, err := domain.ParseMergePolicy(s.commerce.Get().Cart.MergePolicy)
	if err != nil {
		return nil, err
	}
	owner := domain.Owner{UserID: &userID}

	guest, err := s.repo.GetByAnonymousID(ctx, s.db, anonymousID)
	if err != nil {
		return nil, err
	}
	if guest == nil {
		cart, err := s.GetOrCreate(ctx, owner)
		if err != nil {
			return nil, err
		}
		return &domain.MergeResult{Cart: cart, Policy: policy}, nil
	}

	result := &domain.MergeResult{Policy: policy, Merged: true}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.repo.GetByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			user = s.newCart(owner)
			user.Currency = guest.Currency
			result.Collisions = user.Merge(guest, policy, s.maxPerLine())
			if err := s.refreshDiscount(ctx, tx, user); err != nil {
				return err
			}
			if err := s.repo.Add(ctx, tx, user); err != nil {
				return err
			}
		} else {
			if user.Currency != guest.Currency && len(guest.Items) > 0 {
				return domain.ErrCurrencyMismatch
			}
			result.Collisions = user.Merge(guest, policy, s.maxPerLine())
			if err := s.refreshDiscount(ctx, tx, user); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, tx, user); err != nil {
				return err
			}
		}
		result.Cart = user
		return s.repo.Delete(ctx, tx, guest.ID)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, guest.ID)
	s.invalidate(ctx, result.Cart.ID)
	s.metrics.RecordCartMerge(ctx, string(policy), result.Collisions)
	s.log.Info("guest cart merged",
		zap.String("guest_cart_id", guest.ID.String()),
		zap.String("cart_id", result.Cart.ID.String()),
		zap.String("policy", string(policy)),
		zap.Int("collisions", result.Collisions),
	)
	return result, nil
}

func (s *Service) load(ctx context.Context, cartID snowflake.ID) (*domain.Cart, error) {
	cart, err := s.repo.GetByID(ctx, s.db, cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, domain.ErrCartNotFound
	}
	return cart, nil
}

// modify loads the stored cart, applies fn and saves the result.
func (s *Service) modify(ctx context.Context, cartID snowflake.ID, fn func(cart *domain.Cart) error) (*domain.Cart, error) {
	if cartID == 0 {
		return nil, domain.ErrInvalidCartID
	}
	cart, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := fn(cart); err != nil {
		return nil, err
	}
	if err := s.save(ctx, s.db, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Service) save(ctx context.Context, db *gorm.DB, cart *domain.Cart) error {
	if err := s.refreshDiscount(ctx, db, cart); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, db, cart); err != nil {
		return err
	}
	s.invalidate(ctx, cart.ID)
	return nil
}

// refreshDiscount re-evaluates a discount whose items changed. A code that no
// longer applies is dropped from the cart rather than failing the write.
func (s *Service) refreshDiscount(ctx context.Context, db *gorm.DB, cart *domain.Cart) error {
	if !cart.DiscountStale() {
		return nil
	}
	applied := cart.Discount().Code
	code, err := s.repo.FindDiscountCode(ctx, db, applied)
	if err != nil {
		return err
	}
	if err := cart.RefreshDiscount(code, s.clock.Now()); err != nil {
		s.log.Info("cart discount removed",
			zap.String("cart_id", cart.ID.String()),
			zap.String("code", applied),
			zap.String("reason", err.Error()),
		)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, cartID snowflake.ID) {
	if err := s.cache.Delete(ctx, cartID); err != nil {
		s.log.Warn("cart cache invalidation failed", zap.String("cart_id", cartID.String()), zap.Error(err))
	}
}

func (s *Service) maxPerLine() int {
	return s.commerce.Get().Cart.MaxQuantityPerLine
}
