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

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/product/domain"
	"github.com/smallbiznis/storefront/pkg/db/dbtest"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

var productModels = []any{
	&domain.Product{},
	&domain.ExecutionStep{},
	&domain.Faq{},
	&domain.Attribute{},
	&domain.VariantAttribute{},
	&domain.Variant{},
	&domain.VariantOption{},
}

type fixture struct {
	repo *repo
	db   *gorm.DB
	node *snowflake.Node
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	conn := dbtest.OpenMemory(t, productModels...)
	r := New(Params{
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
	}).(*repo)
	return fixture{repo: r, db: conn, node: node}
}

// tee is a published product with Size and Color and one S/Red variant.
func tee(name string) *domain.Product {
	return &domain.Product{
		Name:   name,
		Type:   domain.ProductTypePhysical,
		Status: domain.ProductStatusPublished,
		Price:  decimal.NewFromInt(20),
		ExecutionSteps: []*domain.ExecutionStep{
			{Position: 0, Title: "Pick"},
			{Position: 1, Title: "Ship"},
		},
		Faqs:       []*domain.Faq{{Question: "Cotton?", Answer: "Yes"}},
		Attributes: []*domain.Attribute{{Key: "material", Value: "cotton"}},
		VariantAttributes: []*domain.VariantAttribute{
			{Name: "Size", Position: 0},
			{Name: "Color", Position: 1},
		},
		Variants: []*domain.Variant{{
			SKU:   "TEE-S-RED",
			Price: decimal.NewFromInt(20),
			Stock: 5,
			Options: []*domain.VariantOption{
				{Attribute: "Size", Value: "S"},
				{Attribute: "Color", Value: "Red"},
			},
		}},
	}
}

func (f fixture) add(t *testing.T, p *domain.Product) *domain.Product {
	t.Helper()
	require.NoError(t, f.repo.Add(context.Background(), f.db, p))
	got, err := f.repo.GetByID(context.Background(), f.db, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func count(t *testing.T, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Count(&n).Error)
	return n
}

func TestAddDerivesSlugAndLoadsCollections(t *testing.T) {
	f := newFixture(t)
	got := f.add(t, tee("Basic Tee"))

	assert.Equal(t, "basic-tee", got.SeoSlug)
	assert.EqualValues(t, 1, got.Version)
	assert.Len(t, got.ExecutionSteps, 2)
	assert.Equal(t, "Pick", got.ExecutionSteps[0].Title)
	assert.Len(t, got.Faqs, 1)
	assert.Len(t, got.Attributes, 1)
	require.Len(t, got.VariantAttributes, 2)
	require.Len(t, got.Variants, 1)
	require.Len(t, got.Variants[0].Options, 2)

	size := got.FindVariantAttribute(0, "size")
	require.NotNil(t, size)
	opt := got.Variants[0].Option(size.ID)
	require.NotNil(t, opt)
	assert.Equal(t, "S", opt.Value)
	assert.Equal(t, got.ID, opt.ProductID)

	bySlug, err := f.repo.GetBySlug(context.Background(), f.db, "basic-tee")
	require.NoError(t, err)
	require.NotNil(t, bySlug)
	assert.Equal(t, got.ID, bySlug.ID)
}

func TestAddRejectsDuplicateSlug(t *testing.T) {
	f := newFixture(t)
	f.add(t, tee("Basic Tee"))

	err := f.repo.Add(context.Background(), f.db, tee("Basic  Tee"))
	assert.ErrorIs(t, err, domain.ErrDuplicateSlug)
	assert.EqualValues(t, 1, count(t, f.db, &domain.Product{}))
}

func TestDeleteFreesSlug(t *testing.T) {
	f := newFixture(t)
	first := f.add(t, tee("Basic Tee"))

	require.NoError(t, f.repo.Delete(context.Background(), f.db, first.ID))
	gone, err := f.repo.GetByID(context.Background(), f.db, first.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.ErrorIs(t, f.repo.Delete(context.Background(), f.db, first.ID), domain.ErrNotFound)

	second := f.add(t, tee("Basic Tee"))
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "basic-tee", second.SeoSlug)
}

func TestUpdateAddsVariantWithoutTouchingExisting(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, tee("Basic Tee"))
	original := p.Variants[0]
	originalOptions := map[snowflake.ID]string{}
	for _, o := range original.Options {
		originalOptions[o.ID] = o.Value
	}

	p.Variants = append(p.Variants, &domain.Variant{
		SKU:   "TEE-M-RED",
		Price: decimal.NewFromInt(22),
		Options: []*domain.VariantOption{
			{Attribute: "Size", Value: "M"},
			{Attribute: "Color", Value: "Red"},
		},
	})
	require.NoError(t, f.repo.Update(context.Background(), f.db, p))
	assert.EqualValues(t, 2, p.Version)

	got, err := f.repo.GetByID(context.Background(), f.db, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Variants, 2)
	assert.EqualValues(t, 2, got.Version)

	var kept, added *domain.Variant
	for _, v := range got.Variants {
		if v.ID == original.ID {
			kept = v
		} else {
			added = v
		}
	}
	require.NotNil(t, kept)
	require.NotNil(t, added)

	require.Len(t, kept.Options, 2)
	for _, o := range kept.Options {
		assert.Equal(t, originalOptions[o.ID], o.Value)
		assert.Equal(t, kept.ID, o.VariantID)
	}
	require.Len(t, added.Options, 2)
	size := got.FindVariantAttribute(0, "Size")
	require.NotNil(t, size)
	assert.Equal(t, "M", added.Option(size.ID).Value)
	for _, o := range added.Options {
		assert.Equal(t, added.ID, o.VariantID)
		_, reused := originalOptions[o.ID]
		assert.False(t, reused)
	}
	assert.EqualValues(t, 4, count(t, f.db, &domain.VariantOption{}))
}

func TestUpdateReconcilesEveryCollection(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, tee("Basic Tee"))

	p.ExecutionSteps = p.ExecutionSteps[:1]
	p.ExecutionSteps[0].Title = "Pick and pack"
	p.Faqs = nil
	p.Attributes = append(p.Attributes, &domain.Attribute{Key: "fit", Value: "regular"})
	color := p.FindVariantAttribute(0, "Color")
	require.NotNil(t, color)
	p.Variants[0].Option(color.ID).Value = "Blue"

	require.NoError(t, f.repo.Update(context.Background(), f.db, p))

	got, err := f.repo.GetByID(context.Background(), f.db, p.ID)
	require.NoError(t, err)
	require.Len(t, got.ExecutionSteps, 1)
	assert.Equal(t, "Pick and pack", got.ExecutionSteps[0].Title)
	assert.Empty(t, got.Faqs)
	assert.Len(t, got.Attributes, 2)
	assert.Equal(t, "Blue", got.Variants[0].Option(color.ID).Value)

	// Removed children are gone from storage, not hidden.
	assert.EqualValues(t, 1, count(t, f.db.Unscoped(), &domain.ExecutionStep{}))
	assert.EqualValues(t, 0, count(t, f.db.Unscoped(), &domain.Faq{}))
}

func TestUpdateRemovingVariantRemovesItsOptions(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, tee("Basic Tee"))

	p.Variants = nil
	require.NoError(t, f.repo.Update(context.Background(), f.db, p))

	assert.EqualValues(t, 0, count(t, f.db.Unscoped(), &domain.Variant{}))
	assert.EqualValues(t, 0, count(t, f.db.Unscoped(), &domain.VariantOption{}))
	assert.EqualValues(t, 2, count(t, f.db, &domain.VariantAttribute{}))
}

func TestUpdateRejectsUnknownVariantAttribute(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, tee("Basic Tee"))

	p.Variants[0].Options = append(p.Variants[0].Options, &domain.VariantOption{Attribute: "Sleeve", Value: "Long"})
	err := f.repo.Update(context.Background(), f.db, p)
	assert.ErrorIs(t, err, domain.ErrInvalidVariantOption)

	got, err := f.repo.GetByID(context.Background(), f.db, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)
	assert.Len(t, got.Variants[0].Options, 2)
}

func TestUpdateRejectsDuplicateOption(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, tee("Basic Tee"))

	p.Variants[0].Options = append(p.Variants[0].Options, &domain.VariantOption{Attribute: "size", Value: "L"})
	assert.ErrorIs(t, f.repo.Update(context.Background(), f.db, p), domain.ErrInvalidVariantOption)
}

func TestUpdateWithStaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, tee("Basic Tee"))
	stale, err := f.repo.GetByID(context.Background(), f.db, p.ID)
	require.NoError(t, err)

	p.Name = "Premium Tee"
	require.NoError(t, f.repo.Update(context.Background(), f.db, p))

	stale.Summary = "soft"
	stale.Faqs = nil
	err = f.repo.Update(context.Background(), f.db, stale)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	var cerr *domain.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, p.ID, cerr.ProductID)
	assert.Contains(t, cerr.Description, "version")

	got, err := f.repo.GetByID(context.Background(), f.db, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Premium Tee", got.Name)
	assert.Empty(t, got.Summary)
	assert.Len(t, got.Faqs, 1)
}

func TestUpdateUnknownProduct(t *testing.T) {
	f := newFixture(t)
	p := tee("Ghost")
	p.ID = f.node.Generate()
	p.Version = 1
	assert.ErrorIs(t, f.repo.Update(context.Background(), f.db, p), domain.ErrNotFound)
}

func TestUpdateSlugCollision(t *testing.T) {
	f := newFixture(t)
	f.add(t, tee("Basic Tee"))
	other := f.add(t, tee("Other Tee"))

	other.SeoSlug = "basic-tee"
	assert.ErrorIs(t, f.repo.Update(context.Background(), f.db, other), domain.ErrDuplicateSlug)
}

func TestUpdateGivesForeignChildIDsFreshIDs(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, tee("Tee A"))
	b := f.add(t, tee("Tee B"))

	stolen := a.Faqs[0].ID
	b.Faqs = []*domain.Faq{{ID: stolen, Question: "Stolen?", Answer: "No"}}
	require.NoError(t, f.repo.Update(context.Background(), f.db, b))
	assert.NotEqual(t, stolen, b.Faqs[0].ID)

	reloaded, err := f.repo.GetByID(context.Background(), f.db, a.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Faqs, 1)
	assert.Equal(t, "Cotton?", reloaded.Faqs[0].Question)
}

func TestGetListCountsVariantsAndSellers(t *testing.T) {
	f := newFixture(t)
	seller := f.node.Generate()
	other := f.node.Generate()

	multi := tee("Multi Seller Tee")
	multi.SellerID = &seller
	multi.Variants = append(multi.Variants, &domain.Variant{
		SellerID: &other,
		SKU:      "TEE-M-RED",
		Price:    decimal.NewFromInt(15),
		Options: []*domain.VariantOption{
			{Attribute: "Size", Value: "M"},
			{Attribute: "Color", Value: "Red"},
		},
	})
	f.add(t, multi)

	plain := tee("Plain Mug")
	plain.Variants = nil
	plain.Status = domain.ProductStatusDraft
	f.add(t, plain)

	items, err := f.repo.GetList(context.Background(), f.db, domain.ListFilter{Pagination: pagination.Pagination{PageSize: 10}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Plain Mug", items[0].Name)
	assert.Zero(t, items[0].VariantCount)
	assert.Zero(t, items[0].SellerCount)
	assert.True(t, items[0].MinPrice.Equal(decimal.NewFromInt(20)))

	assert.Equal(t, 2, items[1].VariantCount)
	assert.Equal(t, 2, items[1].SellerCount)
	assert.True(t, items[1].MinPrice.Equal(decimal.NewFromInt(15)))

	bySeller, err := f.repo.GetList(context.Background(), f.db, domain.ListFilter{SellerID: &other})
	require.NoError(t, err)
	require.Len(t, bySeller, 1)
	assert.Equal(t, "Multi Seller Tee", bySeller[0].Name)

	draft := domain.ProductStatusDraft
	drafts, err := f.repo.GetList(context.Background(), f.db, domain.ListFilter{Status: &draft})
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	searched, err := f.repo.GetList(context.Background(), f.db, domain.ListFilter{Query: "mug"})
	require.NoError(t, err)
	require.Len(t, searched, 1)
	assert.Equal(t, "Plain Mug", searched[0].Name)
}

func TestSnapshotMarksAvailability(t *testing.T) {
	f := newFixture(t)
	live := f.add(t, tee("Live Tee"))
	draft := tee("Draft Tee")
	draft.Status = domain.ProductStatusDraft
	hidden := f.add(t, draft)

	snaps, err := f.repo.Snapshot(context.Background(), f.db, []snowflake.ID{live.ID, hidden.ID, f.node.Generate()})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[live.ID].Available)
	assert.Equal(t, "live-tee", snaps[live.ID].Slug)
	assert.False(t, snaps[hidden.ID].Available)
}
