package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/cart/cache"
	"github.com/smallbiznis/storefront/internal/cart/domain"
	"github.com/smallbiznis/storefront/internal/cart/repository"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	productdomain "github.com/smallbiznis/storefront/internal/product/domain"
	"github.com/smallbiznis/storefront/pkg/db/dbtest"
)

type stubCatalog struct {
	products map[snowflake.ID]*productdomain.Snapshot
	err      error
}

func (c *stubCatalog) PriceLookup(_ context.Context, ids []snowflake.ID) (map[snowflake.ID]*productdomain.Snapshot, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[snowflake.ID]*productdomain.Snapshot, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			copied := *p
			out[id] = &copied
		}
	}
	return out, nil
}

func (c *stubCatalog) put(id snowflake.ID, price string, available bool) {
	c.products[id] = &productdomain.Snapshot{
		ID:        id,
		Name:      "Product " + id.String(),
		Type:      productdomain.ProductTypePhysical,
		Price:     decimal.RequireFromString(price),
		Available: available,
	}
}

type fixture struct {
	svc     *Service
	db      *gorm.DB
	node    *snowflake.Node
	catalog *stubCatalog
	redis   *miniredis.Miniredis
}

func newFixture(t *testing.T, mutate func(*config.CommerceConfig)) fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	conn := dbtest.OpenMemory(t, &domain.Cart{}, &domain.Item{}, &domain.DiscountCode{})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.DefaultCommerceConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	catalog := &stubCatalog{products: map[snowflake.ID]*productdomain.Snapshot{}}
	catalog.put(101, "10", true)
	catalog.put(102, "4.50", true)
	catalog.put(103, "8", false)

	svc := New(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.New(repository.Params{Log: zap.NewNop(), GenID: node, Clock: clk}),
		Catalog:  catalog,
		Cache:    cache.NewRedisCache(client, time.Minute),
		Commerce: config.NewStaticCommerceConfig(cfg),
	}).(*Service)
	return fixture{svc: svc, db: conn, node: node, catalog: catalog, redis: mr}
}

func guest(id string) domain.Owner { return domain.Owner{AnonymousID: id} }

func (f fixture) add(t *testing.T, owner domain.Owner, productID snowflake.ID, qty int64) *domain.Cart {
	t.Helper()
	cart, err := f.svc.AddItem(context.Background(), domain.AddItemRequest{Owner: owner, ProductID: productID, Quantity: qty})
	require.NoError(t, err)
	return cart
}

func (f fixture) seedCode(t *testing.T, code domain.DiscountCode) {
	t.Helper()
	code.ID = f.node.Generate()
	code.Active = true
	require.NoError(t, f.db.Create(&code).Error)
}

func TestGetOrCreateReusesCart(t *testing.T) {
	f := newFixture(t, nil)
	first, err := f.svc.GetOrCreate(context.Background(), guest("g-1"))
	require.NoError(t, err)
	second, err := f.svc.GetOrCreate(context.Background(), guest(" g-1 "))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "USD", first.Currency)

	_, err = f.svc.GetOrCreate(context.Background(), domain.Owner{})
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)
}

func TestAddItemIncrementsExistingLine(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, guest("g-1"), 101, 1)
	cart := f.add(t, guest("g-1"), 101, 2)

	require.Len(t, cart.Items, 1)
	assert.EqualValues(t, 3, cart.Items[0].Quantity)

	stored, err := f.svc.Get(context.Background(), cart.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.EqualValues(t, 3, stored.Items[0].Quantity)
}

func TestAddItemRejects(t *testing.T) {
	f := newFixture(t, func(c *config.CommerceConfig) { c.Cart.MaxQuantityPerLine = 5 })
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, domain.AddItemRequest{Owner: guest("g-1"), ProductID: 999, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidProduct)
	_, err = f.svc.AddItem(ctx, domain.AddItemRequest{Owner: guest("g-1"), ProductID: 103, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)
	_, err = f.svc.AddItem(ctx, domain.AddItemRequest{Owner: guest("g-1"), ProductID: 101, Quantity: 6})
	assert.ErrorIs(t, err, domain.ErrQuantityLimit)
	_, err = f.svc.AddItem(ctx, domain.AddItemRequest{Owner: guest("g-1"), ProductID: 101, Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	f.catalog.err = errors.New("catalog down")
	_, err = f.svc.AddItem(ctx, domain.AddItemRequest{Owner: guest("g-1"), ProductID: 101, Quantity: 1})
	assert.EqualError(t, err, "catalog down")
}

func TestGetCachesAndModifyInvalidates(t *testing.T) {
	f := newFixture(t, nil)
	cart := f.add(t, guest("g-1"), 101, 1)
	key := "cart:" + cart.ID.String()

	_, err := f.svc.Get(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.True(t, f.redis.Exists(key))

	_, err = f.svc.UpdateQuantity(context.Background(), cart.ID, 101, 4)
	require.NoError(t, err)
	assert.False(t, f.redis.Exists(key))

	got, err := f.svc.Get(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.Items[0].Quantity)

	_, err = f.svc.Get(context.Background(), f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestUpdateQuantityZeroRemovesAndClear(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, guest("g-1"), 101, 1)
	cart := f.add(t, guest("g-1"), 102, 1)

	cart, err := f.svc.UpdateQuantity(context.Background(), cart.ID, 101, 0)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)

	_, err = f.svc.RemoveItem(context.Background(), cart.ID, 101)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	cart, err = f.svc.Clear(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	got, err := f.svc.Get(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
}

func TestDiscountFollowsItemChanges(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCode(t, domain.DiscountCode{
		Code:        "SAVE5",
		Type:        domain.DiscountFixed,
		Value:       decimal.NewFromInt(5),
		MinSubtotal: decimal.NewFromInt(20),
	})
	cart := f.add(t, guest("g-1"), 101, 3)

	cart, err := f.svc.ApplyDiscount(context.Background(), cart.ID, "save5")
	require.NoError(t, err)
	assert.True(t, cart.Total().Equal(decimal.NewFromInt(25)))

	// Dropping below the minimum removes the code instead of failing.
	cart, err = f.svc.UpdateQuantity(context.Background(), cart.ID, 101, 1)
	require.NoError(t, err)
	assert.Nil(t, cart.Discount())

	got, err := f.svc.Get(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Discount())

	_, err = f.svc.ApplyDiscount(context.Background(), cart.ID, "SAVE5")
	assert.ErrorIs(t, err, domain.ErrDiscountMinimum)
	_, err = f.svc.ApplyDiscount(context.Background(), cart.ID, "NOPE")
	assert.ErrorIs(t, err, domain.ErrDiscountNotFound)
}

func TestRefreshPrices(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, guest("g-1"), 101, 1)
	cart := f.add(t, guest("g-1"), 102, 2)

	f.catalog.put(102, "5", true)
	cart, changed, err := f.svc.RefreshPrices(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.True(t, cart.Subtotal().Equal(decimal.NewFromInt(20)))
}

func TestMergeOnLoginSumsCollidingLines(t *testing.T) {
	f := newFixture(t, nil)
	user := f.node.Generate()
	userOwner := domain.Owner{UserID: &user}
	f.add(t, userOwner, 101, 1)
	f.add(t, guest("g-1"), 101, 2)
	guestCart := f.add(t, guest("g-1"), 102, 1)

	res, err := f.svc.MergeOnLogin(context.Background(), "g-1", user)
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, domain.MergeSum, res.Policy)
	assert.Equal(t, 1, res.Collisions)

	got, err := f.svc.Get(context.Background(), res.Cart.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.EqualValues(t, 3, got.FindItem(101).Quantity)
	assert.EqualValues(t, 1, got.FindItem(102).Quantity)

	_, err = f.svc.Get(context.Background(), guestCart.ID)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
	leftover, err := f.svc.repo.GetByAnonymousID(context.Background(), f.db, "g-1")
	require.NoError(t, err)
	assert.Nil(t, leftover)
}

func TestMergeOnLoginKeepUser(t *testing.T) {
	f := newFixture(t, func(c *config.CommerceConfig) { c.Cart.MergePolicy = config.MergePolicyKeepUser })
	user := f.node.Generate()
	f.add(t, domain.Owner{UserID: &user}, 101, 1)
	f.add(t, guest("g-1"), 101, 2)

	res, err := f.svc.MergeOnLogin(context.Background(), "g-1", user)
	require.NoError(t, err)
	assert.Equal(t, domain.MergeKeepUser, res.Policy)
	assert.EqualValues(t, 1, res.Cart.FindItem(101).Quantity)
}

func TestMergeOnLoginWithoutUserCartMovesLines(t *testing.T) {
	f := newFixture(t, nil)
	guestCart := f.add(t, guest("g-1"), 102, 2)
	user := f.node.Generate()

	res, err := f.svc.MergeOnLogin(context.Background(), "g-1", user)
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.NotEqual(t, guestCart.ID, res.Cart.ID)
	assert.Equal(t, user, *res.Cart.UserID)
	assert.Empty(t, res.Cart.AnonymousID)

	got, err := f.svc.GetOrCreate(context.Background(), domain.Owner{UserID: &user})
	require.NoError(t, err)
	assert.Equal(t, res.Cart.ID, got.ID)
	require.Len(t, got.Items, 1)
	assert.EqualValues(t, 2, got.Items[0].Quantity)
}

func TestMergeOnLoginWithoutGuestCart(t *testing.T) {
	f := newFixture(t, nil)
	user := f.node.Generate()

	res, err := f.svc.MergeOnLogin(context.Background(), "g-unknown", user)
	require.NoError(t, err)
	assert.False(t, res.Merged)
	require.NotNil(t, res.Cart)
	assert.Equal(t, user, *res.Cart.UserID)

	_, err = f.svc.MergeOnLogin(context.Background(), "", user)
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)
}

func TestMergeOnLoginCurrencyMismatchKeepsBothCarts(t *testing.T) {
	f := newFixture(t, nil)
	user := f.node.Generate()
	f.add(t, domain.Owner{UserID: &user}, 101, 1)
	guestCart := f.add(t, guest("g-1"), 102, 1)
	require.NoError(t, f.db.Model(&domain.Cart{}).Where("id = ?", guestCart.ID).Update("currency", "EUR").Error)

	_, err := f.svc.MergeOnLogin(context.Background(), "g-1", user)
	assert.ErrorIs(t, err, domain.ErrCurrencyMismatch)

	stillThere, err := f.svc.repo.GetByAnonymousID(context.Background(), f.db, "g-1")
	require.NoError(t, err)
	require.NotNil(t, stillThere)
	assert.Len(t, stillThere.Items, 1)
}
