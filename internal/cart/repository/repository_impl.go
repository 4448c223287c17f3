package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/cart/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	obsctx "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/observability/tracing"
	"github.com/smallbiznis/storefront/pkg/changeset"
	"github.com/smallbiznis/storefront/pkg/reconcile"
)

const tracerName = "storefront/cart"

// ItemPolicy deletes stored lines missing from the cart. Carts are always
// loaded whole before they are changed.
var ItemPolicy = reconcile.FullDiff

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
		log:     p.Log.Named("cart.repository"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
	if r.clock == nil {
		r.clock = clock.NewSystemClock()
	}
	return r
}

func (r *repo) Add(ctx context.Context, db *gorm.DB, cart *domain.Cart) error {
	if cart == nil {
		return domain.ErrInvalidCartID
	}
	if !cart.Owner().Valid() {
		return domain.ErrInvalidOwner
	}
	if cart.ID == 0 {
		cart.ID = r.genID.Generate()
	}
	cart.Items = collapse(cart.Items)
	r.assignIDs(cart)

	now := r.clock.Now()
	actor := obsctx.ActorSnowflake(ctx)
	cart.Stamp(actor, now)

	set := changeset.New()
	set.Insert(cart)
	for _, item := range cart.Items {
		item.Stamp(actor, now)
		set.Insert(item)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return set.Apply(ctx, tx)
	})
}

func (r *repo) GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Cart, error) {
	if id == 0 {
		return nil, domain.ErrInvalidCartID
	}
	return r.load(ctx, db, func(q *gorm.DB) *gorm.DB {
		return q.Where("id = ?", id)
	})
}

func (r *repo) GetByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Cart, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidOwner
	}
	return r.load(ctx, db, func(q *gorm.DB) *gorm.DB {
		return q.Where("user_id = ?", userID).Order("updated_at DESC")
	})
}

func (r *repo) GetByAnonymousID(ctx context.Context, db *gorm.DB, anonymousID string) (*domain.Cart, error) {
	if anonymousID == "" {
		return nil, domain.ErrInvalidOwner
	}
	return r.load(ctx, db, func(q *gorm.DB) *gorm.DB {
		return q.Where("anonymous_id = ? AND user_id IS NULL", anonymousID).Order("updated_at DESC")
	})
}

func (r *repo) load(ctx context.Context, db *gorm.DB, scope func(*gorm.DB) *gorm.DB) (*domain.Cart, error) {
	var cart domain.Cart
	if err := db.WithContext(ctx).Scopes(scope).Limit(1).Find(&cart).Error; err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.ID == 0 {
		return nil, nil
	}
	err := db.WithContext(ctx).
		Where("cart_id = ?", cart.ID).
		Order("id ASC").
		Find(&cart.Items).Error
	if err != nil {
		return nil, fmt.Errorf("load cart items: %w", err)
	}
	return &cart, nil
}

// stored is what Update reads back before writing: the concurrency token,
// the identity and the persisted line per product.
type stored struct {
	UpdatedAt   time.Time
	UserID      *snowflake.ID
	AnonymousID string
	items       []snowflake.ID
	byProduct   map[snowflake.ID]snowflake.ID
}

type storedItem struct {
	ID        snowflake.ID
	ProductID snowflake.ID
}

func loadStored(ctx context.Context, tx *gorm.DB, cartID snowflake.ID) (*stored, error) {
	var rows []stored
	err := tx.WithContext(ctx).Raw(
		`SELECT updated_at, user_id, anonymous_id FROM shopping_carts
		 WHERE id = ? AND deleted_at IS NULL`,
		cartID,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load cart token: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	s := &rows[0]

	var items []storedItem
	err = tx.WithContext(ctx).Raw(
		`SELECT id, product_id FROM shopping_cart_items
		 WHERE cart_id = ? AND deleted_at IS NULL
		 ORDER BY id ASC`,
		cartID,
	).Scan(&items).Error
	if err != nil {
		return nil, fmt.Errorf("load cart item ids: %w", err)
	}
	s.byProduct = make(map[snowflake.ID]snowflake.ID, len(items))
	for _, item := range items {
		s.items = append(s.items, item.ID)
		s.byProduct[item.ProductID] = item.ID
	}
	return s, nil
}

// Update reads the stored update timestamp and line ids, then saves the cart
// with that timestamp as the expected original value. Lines without an id
// adopt the id of the stored line for the same product so a product never
// has two rows in one cart.
func (r *repo) Update(ctx context.Context, db *gorm.DB, cart *domain.Cart) error {
	if cart == nil || cart.ID == 0 {
		return domain.ErrInvalidCartID
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "cart.update",
		attribute.String("cart.id", cart.ID.String()),
		attribute.Int("cart.items", len(cart.Items)),
	)
	defer span.End()
	r.metrics.IncAttempt(metrics.AggregateCart)

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := loadStored(ctx, tx, cart.ID)
		if err != nil {
			return err
		}
		if s == nil {
			return domain.ErrCartNotFound
		}
		if !sameOwner(s, cart) {
			return domain.ErrInvalidOwner
		}

		cart.Items = collapse(cart.Items)
		for _, item := range cart.Items {
			if item.ID != 0 {
				continue
			}
			if id, ok := s.byProduct[item.ProductID]; ok {
				item.ID = id
			}
		}
		r.assignIDs(cart)

		set := r.buildChangeset(ctx, cart, s)
		if err := set.Apply(ctx, tx); err != nil {
			var cerr *changeset.ConflictError
			if !errors.As(err, &cerr) {
				return fmt.Errorf("save cart: %w", err)
			}
			res, rerr := changeset.Resolve(ctx, tx, cerr)
			if rerr != nil {
				return fmt.Errorf("resolve cart conflict: %w", rerr)
			}
			kind := metrics.ConflictKindChanged
			if res.Retryable() {
				kind = metrics.ConflictKindPhantom
			}
			r.metrics.IncConflict(metrics.AggregateCart, kind)
			return &domain.ConflictError{CartID: cart.ID, Description: res.Describe()}
		}
		return nil
	})
	if err != nil {
		r.metrics.IncOutcome(metrics.AggregateCart, outcomeOf(err))
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "cart update failed")
		if errors.Is(err, domain.ErrCartConflict) {
			r.log.Warn("cart concurrency conflict", zap.String("cart_id", cart.ID.String()), zap.Error(err))
		}
		return err
	}
	r.metrics.IncOutcome(metrics.AggregateCart, metrics.OutcomeCommitted)
	return nil
}

func (r *repo) buildChangeset(ctx context.Context, cart *domain.Cart, s *stored) *changeset.Set {
	now := r.clock.Now()
	actor := obsctx.ActorSnowflake(ctx)
	scope := changeset.WithScope("cart_id", cart.ID)

	plan := reconcile.Diff(cart.Items, s.items, itemKey, ItemPolicy)
	set := changeset.New()
	for _, id := range plan.Deletes {
		set.Delete(&domain.Item{ID: id}, scope)
	}
	for _, item := range plan.Updates {
		item.Stamp(actor, now)
		set.Update(item, scope)
	}
	for _, item := range plan.Inserts {
		item.Stamp(actor, now)
		set.Insert(item)
	}
	cart.Stamp(actor, now)
	set.Update(cart, changeset.WithToken("updated_at", s.UpdatedAt))
	return set
}

// Delete soft-deletes the cart and removes its lines.
func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidCartID
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("cart_id = ?", id).Delete(&domain.Item{}).Error; err != nil {
			return fmt.Errorf("delete cart items: %w", err)
		}
		res := tx.Model(&domain.Cart{}).Where("id = ?", id).Updates(map[string]any{
			"deleted_at": r.clock.Now().UTC(),
			"updater_id": obsctx.ActorSnowflake(ctx),
		})
		if res.Error != nil {
			return fmt.Errorf("delete cart: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrCartNotFound
		}
		return nil
	})
}

func (r *repo) FindDiscountCode(ctx context.Context, db *gorm.DB, code string) (*domain.DiscountCode, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, domain.ErrDiscountNotFound
	}
	var found domain.DiscountCode
	err := db.WithContext(ctx).
		Where("UPPER(code) = ?", code).
		Limit(1).
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("find discount code: %w", err)
	}
	if found.ID == 0 {
		return nil, nil
	}
	return &found, nil
}

func (r *repo) assignIDs(cart *domain.Cart) {
	for _, item := range cart.Items {
		if item.ID == 0 {
			item.ID = r.genID.Generate()
		}
		item.CartID = cart.ID
	}
}

func itemKey(i *domain.Item) snowflake.ID { return i.ID }

// collapse merges lines for the same product into the first one.
func collapse(items []*domain.Item) []*domain.Item {
	out := make([]*domain.Item, 0, len(items))
	seen := make(map[snowflake.ID]*domain.Item, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		if first, ok := seen[item.ProductID]; ok {
			first.Quantity += item.Quantity
			if first.ID == 0 {
				first.ID = item.ID
			}
			continue
		}
		seen[item.ProductID] = item
		out = append(out, item)
	}
	return out
}

func sameOwner(s *stored, cart *domain.Cart) bool {
	if s.AnonymousID != cart.AnonymousID {
		return false
	}
	switch {
	case s.UserID == nil && cart.UserID == nil:
		return true
	case s.UserID == nil || cart.UserID == nil:
		return false
	default:
		return *s.UserID == *cart.UserID
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrCartConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, domain.ErrCartNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrInvalidOwner), errors.Is(err, domain.ErrInvalidCartID):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomePersistence
	}
}
