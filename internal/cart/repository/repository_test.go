package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/cart/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	productdomain "github.com/smallbiznis/storefront/internal/product/domain"
	"github.com/smallbiznis/storefront/pkg/db/dbtest"
)

type fixture struct {
	repo  *repo
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	conn := dbtest.OpenMemory(t, &domain.Cart{}, &domain.Item{}, &domain.DiscountCode{})
	r := New(Params{Log: zap.NewNop(), GenID: node, Clock: clk}).(*repo)
	return fixture{repo: r, db: conn, node: node, clock: clk}
}

func snapshot(id snowflake.ID, price int64) *productdomain.Snapshot {
	return &productdomain.Snapshot{
		ID:        id,
		Name:      "Product " + id.String(),
		Type:      productdomain.ProductTypePhysical,
		Price:     decimal.NewFromInt(price),
		Available: true,
	}
}

func (f fixture) guestCart(t *testing.T, anonymousID string, products ...snowflake.ID) *domain.Cart {
	t.Helper()
	c := &domain.Cart{AnonymousID: anonymousID, Currency: "USD"}
	for _, id := range products {
		require.NoError(t, c.AddOrIncrement(snapshot(id, 10), 1, 0))
	}
	require.NoError(t, f.repo.Add(context.Background(), f.db, c))
	return c
}

func (f fixture) reload(t *testing.T, id snowflake.ID) *domain.Cart {
	t.Helper()
	c, err := f.repo.GetByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func (f fixture) rows(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Unscoped().Model(&domain.Item{}).Count(&n).Error)
	return n
}

func TestAddAndLoad(t *testing.T) {
	f := newFixture(t)
	c := f.guestCart(t, "guest-1", 101, 102)

	got := f.reload(t, c.ID)
	assert.Equal(t, "guest-1", got.AnonymousID)
	require.Len(t, got.Items, 2)
	assert.Equal(t, c.ID, got.Items[0].CartID)
	assert.Nil(t, got.Discount())

	byGuest, err := f.repo.GetByAnonymousID(context.Background(), f.db, "guest-1")
	require.NoError(t, err)
	require.NotNil(t, byGuest)
	assert.Equal(t, c.ID, byGuest.ID)

	missing, err := f.repo.GetByAnonymousID(context.Background(), f.db, "guest-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAddRejectsCartWithoutOwner(t *testing.T) {
	f := newFixture(t)
	err := f.repo.Add(context.Background(), f.db, &domain.Cart{Currency: "USD"})
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)
}

func TestAddCollapsesDuplicateProducts(t *testing.T) {
	f := newFixture(t)
	c := &domain.Cart{AnonymousID: "guest-1", Currency: "USD", Items: []*domain.Item{
		domain.NewItem(snapshot(101, 10), 1),
		domain.NewItem(snapshot(101, 10), 2),
	}}
	require.NoError(t, f.repo.Add(context.Background(), f.db, c))

	got := f.reload(t, c.ID)
	require.Len(t, got.Items, 1)
	assert.EqualValues(t, 3, got.Items[0].Quantity)
}

func TestUpdateReconcilesItems(t *testing.T) {
	f := newFixture(t)
	c := f.guestCart(t, "guest-1", 101, 102)

	loaded := f.reload(t, c.ID)
	require.NoError(t, loaded.SetQuantity(101, 4, 0))
	require.NoError(t, loaded.Remove(102))
	require.NoError(t, loaded.AddOrIncrement(snapshot(103, 5), 2, 0))
	f.clock.Advance(time.Minute)
	require.NoError(t, f.repo.Update(context.Background(), f.db, loaded))

	got := f.reload(t, c.ID)
	require.Len(t, got.Items, 2)
	assert.EqualValues(t, 4, got.FindItem(101).Quantity)
	assert.Nil(t, got.FindItem(102))
	assert.EqualValues(t, 2, got.FindItem(103).Quantity)
	assert.True(t, got.UpdatedAt.After(c.UpdatedAt))
	assert.EqualValues(t, 2, f.rows(t))
}

// A detached cart built without line ids must not create a second row for a
// product the stored cart already holds.
func TestUpdateAdoptsStoredLineForSameProduct(t *testing.T) {
	f := newFixture(t)
	c := f.guestCart(t, "guest-1", 101)
	storedID := f.reload(t, c.ID).Items[0].ID

	detached := &domain.Cart{
		ID:          c.ID,
		AnonymousID: "guest-1",
		Currency:    "USD",
		Items:       []*domain.Item{domain.NewItem(snapshot(101, 10), 7)},
	}
	require.NoError(t, f.repo.Update(context.Background(), f.db, detached))

	got := f.reload(t, c.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, storedID, got.Items[0].ID)
	assert.EqualValues(t, 7, got.Items[0].Quantity)
	assert.EqualValues(t, 1, f.rows(t))
}

func TestUpdateSuccessiveSavesDoNotConflict(t *testing.T) {
	f := newFixture(t)
	c := f.guestCart(t, "guest-1", 101)

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
		require.NoError(t, c.AddOrIncrement(snapshot(101, 10), 1, 0))
		require.NoError(t, f.repo.Update(context.Background(), f.db, c))
	}
	assert.EqualValues(t, 4, f.reload(t, c.ID).Items[0].Quantity)
}

func TestUpdateRejectsOwnerChange(t *testing.T) {
	f := newFixture(t)
	c := f.guestCart(t, "guest-1", 101)

	user := f.node.Generate()
	c.UserID = &user
	assert.ErrorIs(t, f.repo.Update(context.Background(), f.db, c), domain.ErrInvalidOwner)
}

func TestUpdateMissingCart(t *testing.T) {
	f := newFixture(t)
	c := &domain.Cart{ID: f.node.Generate(), AnonymousID: "guest-1", Currency: "USD"}
	assert.ErrorIs(t, f.repo.Update(context.Background(), f.db, c), domain.ErrCartNotFound)
}

func TestUpdatePersistsDiscountSnapshot(t *testing.T) {
	f := newFixture(t)
	c := f.guestCart(t, "guest-1", 101, 102)
	code := &domain.DiscountCode{Code: "FIVE", Type: domain.DiscountFixed, Value: decimal.NewFromInt(5), Active: true}
	require.NoError(t, c.ApplyDiscount(code, f.clock.Now()))
	require.NoError(t, f.repo.Update(context.Background(), f.db, c))

	got := f.reload(t, c.ID)
	require.NotNil(t, got.Discount())
	assert.Equal(t, "FIVE", got.Discount().Code)
	assert.True(t, got.Discount().Amount.Equal(decimal.NewFromInt(5)))
	assert.True(t, got.Total().Equal(decimal.NewFromInt(15)))
}

func TestGetByUserIDIgnoresGuestCarts(t *testing.T) {
	f := newFixture(t)
	f.guestCart(t, "guest-1", 101)
	user := f.node.Generate()

	none, err := f.repo.GetByUserID(context.Background(), f.db, user)
	require.NoError(t, err)
	assert.Nil(t, none)

	owned := &domain.Cart{UserID: &user, Currency: "USD"}
	require.NoError(t, f.repo.Add(context.Background(), f.db, owned))
	got, err := f.repo.GetByUserID(context.Background(), f.db, user)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, owned.ID, got.ID)
}

func TestDeleteRemovesCartAndLines(t *testing.T) {
	f := newFixture(t)
	c := f.guestCart(t, "guest-1", 101, 102)

	require.NoError(t, f.repo.Delete(context.Background(), f.db, c.ID))
	gone, err := f.repo.GetByID(context.Background(), f.db, c.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.Zero(t, f.rows(t))
	assert.ErrorIs(t, f.repo.Delete(context.Background(), f.db, c.ID), domain.ErrCartNotFound)
	assert.ErrorIs(t, f.repo.Update(context.Background(), f.db, c), domain.ErrCartNotFound)
}

func TestFindDiscountCodeIgnoresCase(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&domain.DiscountCode{
		ID:     f.node.Generate(),
		Code:   "SPRING10",
		Type:   domain.DiscountPercentage,
		Value:  decimal.NewFromInt(10),
		Active: true,
	}).Error)

	found, err := f.repo.FindDiscountCode(context.Background(), f.db, " spring10 ")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "SPRING10", found.Code)

	missing, err := f.repo.FindDiscountCode(context.Background(), f.db, "WINTER")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
