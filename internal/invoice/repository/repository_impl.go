package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/invoice/domain"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	walletdomain "github.com/smallbiznis/storefront/internal/wallet/domain"
	walletrepo "github.com/smallbiznis/storefront/internal/wallet/repository"
	"github.com/smallbiznis/storefront/pkg/changeset"
	"github.com/smallbiznis/storefront/pkg/db/option"
	"github.com/smallbiznis/storefront/pkg/lock"
)

const (
	defaultLockTimeout = 15 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 50 * time.Millisecond
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Locker  lock.Locker
	Config  config.Config
	Metrics *metrics.RepositoryMetrics `optional:"true"`
}

type repo struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	locker  lock.Locker
	metrics *metrics.RepositoryMetrics

	lockTimeout time.Duration
	maxAttempts int
	backoff     time.Duration

	// testHookBeforeSave runs inside the attempt transaction right before
	// the changeset is applied.
	testHookBeforeSave func(ctx context.Context, tx *gorm.DB) error
}

func New(p Params) domain.Repository {
	r := &repo{
		db:          p.DB,
		log:         p.Log.Named("invoice.repository"),
		genID:       p.GenID,
		clock:       p.Clock,
		locker:      p.Locker,
		metrics:     p.Metrics,
		lockTimeout: p.Config.Lock.Timeout,
		maxAttempts: p.Config.Mutate.MaxAttempts,
		backoff:     p.Config.Mutate.Backoff,
	}
	if r.clock == nil {
		r.clock = clock.NewSystemClock()
	}
	if r.lockTimeout <= 0 {
		r.lockTimeout = defaultLockTimeout
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	return r
}

// LockKey names the exclusive lock guarding one invoice.
func LockKey(id snowflake.ID) string {
	return "invoice:" + id.String()
}

// Add inserts a new invoice with all of its children.
func (r *repo) Add(ctx context.Context, db *gorm.DB, inv *domain.Invoice) error {
	if inv == nil {
		return domain.ErrInvalidItem
	}
	if inv.ID == 0 {
		inv.ID = r.genID.Generate()
	}
	if inv.Version == 0 {
		inv.Version = 1
	}
	r.assignIDs(inv)

	now := r.clock.Now()
	actor := actorFrom(ctx)
	inv.Stamp(actor, now)

	set := changeset.New()
	set.Insert(inv)
	for _, item := range inv.Items {
		item.Stamp(actor, now)
		set.Insert(item)
	}
	for _, item := range inv.Items {
		for _, attr := range item.Attributes {
			attr.Stamp(actor, now)
			set.Insert(attr)
		}
	}
	for _, p := range inv.Payments {
		p.Stamp(actor, now)
		set.Insert(p)
	}
	for _, w := range inv.WalletTransactions {
		w.Stamp(actor, now)
		set.Insert(w)
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return set.Apply(ctx, tx)
	})
}

func (r *repo) GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID, includeDetails bool) (*domain.Invoice, error) {
	if id == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	return r.load(ctx, db, id, includeDetails)
}

func (r *repo) GetByNumber(ctx context.Context, db *gorm.DB, number string) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := db.WithContext(ctx).
		Where("invoice_number = ?", number).
		Limit(1).
		Find(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}
	return r.load(ctx, db, inv.ID, true)
}

// List returns one page plus a look-ahead row, newest first, with items.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.UserID != nil {
		stmt = stmt.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	stmt = option.ApplyPagination(filter.Pagination).Apply(stmt)

	var invoices []*domain.Invoice
	if err := stmt.Order("id DESC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return invoices, nil
	}

	ids := make([]snowflake.ID, 0, len(invoices))
	byID := make(map[snowflake.ID]*domain.Invoice, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
		byID[inv.ID] = inv
	}

	var items []*domain.Item
	err := db.WithContext(ctx).
		Where("invoice_id IN ?", ids).
		Order("position ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if inv := byID[item.InvoiceID]; inv != nil {
			inv.Items = append(inv.Items, item)
		}
	}
	return invoices, nil
}

// NextSequence returns the next invoice sequence number, starting at 1001.
// Soft-deleted invoices keep their numbers.
func (r *repo) NextSequence(ctx context.Context, db *gorm.DB) (int64, error) {
	var current int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(sequence_no), 1000) FROM invoices`,
	).Scan(&current).Error
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

func (r *repo) load(ctx context.Context, db *gorm.DB, id snowflake.ID, includeDetails bool) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&inv).Error
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	if inv.ID == 0 {
		return nil, nil
	}

	err = db.WithContext(ctx).
		Where("invoice_id = ?", id).
		Order("position ASC").
		Order("id ASC").
		Find(&inv.Items).Error
	if err != nil {
		return nil, fmt.Errorf("load invoice items: %w", err)
	}
	if !includeDetails {
		return &inv, nil
	}

	var attrs []*domain.ItemAttribute
	err = db.WithContext(ctx).
		Where("invoice_id = ?", id).
		Order("id ASC").
		Find(&attrs).Error
	if err != nil {
		return nil, fmt.Errorf("load item attributes: %w", err)
	}
	items := make(map[snowflake.ID]*domain.Item, len(inv.Items))
	for _, item := range inv.Items {
		items[item.ID] = item
	}
	for _, attr := range attrs {
		if item := items[attr.ItemID]; item != nil {
			item.Attributes = append(item.Attributes, attr)
		}
	}

	err = db.WithContext(ctx).
		Where("invoice_id = ?", id).
		Order("id ASC").
		Find(&inv.Payments).Error
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}

	var wallet []*walletdomain.Transaction
	err = db.WithContext(ctx).
		Where("invoice_id = ?", id).
		Order("id ASC").
		Find(&wallet).Error
	if err != nil {
		return nil, fmt.Errorf("load wallet transactions: %w", err)
	}
	inv.WalletTransactions = wallet
	return &inv, nil
}

// assignIDs gives new children an id and points every child at its parent.
func (r *repo) assignIDs(inv *domain.Invoice) {
	for _, item := range inv.Items {
		if item == nil {
			continue
		}
		if item.ID == 0 {
			item.ID = r.genID.Generate()
		}
		item.InvoiceID = inv.ID
		for _, attr := range item.Attributes {
			if attr == nil {
				continue
			}
			if attr.ID == 0 {
				attr.ID = r.genID.Generate()
			}
			attr.ItemID = item.ID
			attr.InvoiceID = inv.ID
		}
	}
	for _, p := range inv.Payments {
		if p == nil {
			continue
		}
		if p.ID == 0 {
			p.ID = r.genID.Generate()
		}
		if p.Reference == "" {
			p.Reference = walletrepo.NewReference("pay")
		}
		p.InvoiceID = inv.ID
	}
	for _, w := range inv.WalletTransactions {
		if w == nil {
			continue
		}
		if w.ID == 0 {
			w.ID = r.genID.Generate()
		}
		if w.Reference == "" {
			w.Reference = walletrepo.NewReference("wtx")
		}
		id := inv.ID
		w.InvoiceID = &id
	}
}
