package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	cartcache "github.com/smallbiznis/storefront/internal/cart/cache"
	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/invoice/domain"
	"github.com/smallbiznis/storefront/internal/invoice/format"
	"github.com/smallbiznis/storefront/internal/invoice/pdf"
	"github.com/smallbiznis/storefront/internal/invoice/repository"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	walletdomain "github.com/smallbiznis/storefront/internal/wallet/domain"
	walletrepo "github.com/smallbiznis/storefront/internal/wallet/repository"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

const createAttempts = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	CartRepo   cartdomain.Repository
	CartCache  cartcache.Cache `optional:"true"`
	WalletRepo walletdomain.Repository
	Renderer   pdf.Renderer
	Commerce   *config.CommerceConfigHolder `optional:"true"`
	Metrics    *metrics.Metrics             `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	cartRepo   cartdomain.Repository
	cartCache  cartcache.Cache
	walletRepo walletdomain.Repository
	renderer   pdf.Renderer
	commerce   *config.CommerceConfigHolder
	metrics    *metrics.Metrics
}

func New(p Params) domain.Service {
	s := &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		cartRepo:   p.CartRepo,
		cartCache:  p.CartCache,
		walletRepo: p.WalletRepo,
		renderer:   p.Renderer,
		commerce:   p.Commerce,
		metrics:    p.Metrics,
	}
	if s.cartCache == nil {
		s.cartCache = (*cartcache.RedisCache)(nil)
	}
	return s
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Invoice, error) {
	if len(req.Items) == 0 {
		return nil, domain.ErrInvalidItem
	}
	cfg := s.commerce.Get().Invoice
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = cfg.Currency
	}

	items := make([]*domain.Item, 0, len(req.Items))
	for i, input := range req.Items {
		item, err := newItem(input, i)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	inv := s.draft(req.UserID, currency, items)
	inv.AdjustmentAmount = req.AdjustmentAmount
	inv.Notes = strings.TrimSpace(req.Notes)
	if len(req.Metadata) > 0 {
		inv.Metadata = req.Metadata
	}
	inv.Recalculate()

	if err := s.insert(ctx, inv, nil); err != nil {
		return nil, err
	}
	return inv, nil
}

// CreateFromCart bills the cart contents and empties the cart in the same
// transaction.
func (s *Service) CreateFromCart(ctx context.Context, req domain.CreateFromCartRequest) (*domain.Invoice, error) {
	if req.CartID == 0 {
		return nil, cartdomain.ErrInvalidCartID
	}
	cart, err := s.cartRepo.GetByID(ctx, s.db, req.CartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, cartdomain.ErrCartNotFound
	}
	if len(cart.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	items := make([]*domain.Item, 0, len(cart.Items))
	for i, line := range cart.Items {
		productID := line.ProductID
		item := &domain.Item{
			ItemType:    domain.ItemTypeProduct,
			ReferenceID: &productID,
			Description: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.Price,
			Position:    i,
		}
		if line.ProductSlug != "" {
			item.Attributes = append(item.Attributes, &domain.ItemAttribute{Key: "product_slug", Value: line.ProductSlug})
		}
		items = append(items, item)
	}

	inv := s.draft(cart.UserID, cart.Currency, items)
	cartID := cart.ID
	inv.CartID = &cartID
	inv.Notes = strings.TrimSpace(req.Notes)
	if d := cart.Discount(); d != nil && d.Amount.IsPositive() {
		inv.AdjustmentAmount = d.Amount.Neg()
		inv.Metadata = map[string]any{"discount_code": d.Code}
	}
	inv.Recalculate()

	err = s.insert(ctx, inv, func(tx *gorm.DB) error {
		cart.Clear()
		return s.cartRepo.Update(ctx, tx, cart)
	})
	if err != nil {
		return nil, err
	}
	// The emptied cart is committed; readers must not see the cached lines.
	if err := s.cartCache.Delete(ctx, cartID); err != nil {
		s.log.Warn("cart cache invalidation failed", zap.String("cart_id", cartID.String()), zap.Error(err))
	}
	return inv, nil
}

func (s *Service) draft(userID *snowflake.ID, currency string, items []*domain.Item) *domain.Invoice {
	cfg := s.commerce.Get().Invoice
	now := s.clock.Now()
	inv := &domain.Invoice{
		ID:               s.genID.Generate(),
		UserID:           userID,
		Status:           domain.InvoiceStatusPending,
		Currency:         currency,
		TaxRate:          decimal.NewFromFloat(cfg.TaxRate),
		AdjustmentAmount: decimal.Zero,
		Version:          1,
		Items:            items,
	}
	if cfg.DueDays > 0 {
		due := now.AddDate(0, 0, cfg.DueDays)
		inv.DueAt = &due
	}
	return inv
}

// insert numbers and stores inv, retrying when a concurrent create took the
// same number. after runs inside the same transaction.
func (s *Service) insert(ctx context.Context, inv *domain.Invoice, after func(tx *gorm.DB) error) error {
	template := format.TemplateFromPrefix(s.commerce.Get().Invoice.NumberPrefix)

	var err error
	for attempt := 1; attempt <= createAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			seq, err := s.repo.NextSequence(ctx, tx)
			if err != nil {
				return err
			}
			number, err := format.InvoiceNumber(template, s.clock.Now(), seq)
			if err != nil {
				return err
			}
			inv.SequenceNo = seq
			inv.InvoiceNumber = number

			if err := s.repo.Add(ctx, tx, inv); err != nil {
				return err
			}
			if after != nil {
				return after(tx)
			}
			return nil
		})
		if err == nil || !db.IsDuplicateKeyErr(err) {
			break
		}
		s.log.Warn("invoice number taken, retrying", zap.String("invoice_number", inv.InvoiceNumber), zap.Int("attempt", attempt))
	}
	if err != nil {
		s.log.Error("failed to create invoice", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
		return err
	}

	s.log.Info("invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("total", inv.Total().StringFixed(2)),
	)
	return nil
}

func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (*domain.PaymentTransaction, error) {
	gateway := strings.ToLower(strings.TrimSpace(req.Gateway))
	if gateway == "" {
		return nil, domain.ErrInvalidGateway
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	status := domain.PaymentStatusSucceeded
	if req.Failed {
		status = domain.PaymentStatusFailed
	}

	payment, err := repository.MutateValue(ctx, s.repo, s.mutateRequest(req.InvoiceID, true),
		func(ctx context.Context, inv *domain.Invoice) (*domain.PaymentTransaction, error) {
			currency := strings.ToUpper(strings.TrimSpace(req.Currency))
			if currency == "" {
				currency = inv.Currency
			}
			p := &domain.PaymentTransaction{
				Gateway:     gateway,
				ExternalRef: strings.TrimSpace(req.ExternalRef),
				Status:      status,
				Amount:      req.Amount,
				Currency:    currency,
				PaidAt:      s.clock.Now(),
			}
			if err := inv.ApplyPayment(p, s.clock.Now()); err != nil {
				return nil, err
			}
			return p, nil
		})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPayment(ctx, gateway, string(status))
	return payment, nil
}

// PayWithWallet debits the user's wallet for the invoice. The balance is
// read inside the attempt while both the invoice and the wallet lock are
// held, so concurrent debits of one wallet cannot overdraw it.
func (s *Service) PayWithWallet(ctx context.Context, req domain.WalletPaymentRequest) (*walletdomain.Transaction, error) {
	if req.UserID == 0 {
		return nil, walletdomain.ErrInvalidUser
	}
	if req.Amount != nil && !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	var balance decimal.Decimal
	mreq := s.mutateRequest(req.InvoiceID, true)
	mreq.Locks = []string{walletrepo.LockKey(req.UserID)}
	mreq.Prepare = func(ctx context.Context, tx *gorm.DB, inv *domain.Invoice) error {
		var err error
		balance, err = s.walletRepo.Balance(ctx, tx, req.UserID, inv.Currency)
		return err
	}

	txn, err := repository.MutateValue(ctx, s.repo, mreq,
		func(ctx context.Context, inv *domain.Invoice) (*walletdomain.Transaction, error) {
			if inv.UserID != nil && *inv.UserID != req.UserID {
				return nil, walletdomain.ErrInvalidUser
			}
			amount := inv.Outstanding()
			if req.Amount != nil {
				amount = *req.Amount
			} else if balance.LessThan(amount) {
				amount = balance
			}
			if !amount.IsPositive() || amount.GreaterThan(balance) {
				return nil, domain.ErrInsufficientBalance
			}

			w := &walletdomain.Transaction{
				UserID:      req.UserID,
				Amount:      amount,
				Currency:    inv.Currency,
				Description: "payment for " + inv.InvoiceNumber,
			}
			if err := inv.ApplyWalletPayment(w, s.clock.Now()); err != nil {
				return nil, err
			}
			return w, nil
		})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordWalletDebit(ctx, txn.Currency)
	return txn, nil
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	return s.mutateInvoice(ctx, id, false, func(ctx context.Context, inv *domain.Invoice) error {
		return inv.MarkPaid(s.clock.Now())
	})
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason string) (*domain.Invoice, error) {
	return s.mutateInvoice(ctx, id, true, func(ctx context.Context, inv *domain.Invoice) error {
		if err := inv.Cancel(s.clock.Now()); err != nil {
			return err
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			if inv.Metadata == nil {
				inv.Metadata = map[string]any{}
			}
			inv.Metadata["cancel_reason"] = reason
		}
		return nil
	})
}

// ReplaceItems makes items the complete item list. Inputs carrying the id of
// an existing item update it in place.
func (s *Service) ReplaceItems(ctx context.Context, id snowflake.ID, inputs []domain.ItemInput) (*domain.Invoice, error) {
	if len(inputs) == 0 {
		return nil, domain.ErrInvalidItem
	}
	return s.mutateInvoice(ctx, id, true, func(ctx context.Context, inv *domain.Invoice) error {
		if !inv.Editable() {
			return domain.ErrInvoiceNotEditable
		}
		desired := make([]*domain.Item, 0, len(inputs))
		for i, input := range inputs {
			next, err := newItem(input, i)
			if err != nil {
				return err
			}
			if input.ID != nil {
				if existing := inv.FindItem(*input.ID); existing != nil {
					mergeItem(existing, next)
					desired = append(desired, existing)
					continue
				}
			}
			desired = append(desired, next)
		}
		inv.Items = desired
		inv.Recalculate()
		return nil
	})
}

func (s *Service) AddItem(ctx context.Context, id snowflake.ID, input domain.ItemInput) (*domain.Item, error) {
	item, err := newItem(input, 0)
	if err != nil {
		return nil, err
	}
	return repository.MutateValue(ctx, s.repo, s.mutateRequest(id, false),
		func(ctx context.Context, inv *domain.Invoice) (*domain.Item, error) {
			if !inv.Editable() {
				return nil, domain.ErrInvoiceNotEditable
			}
			added := cloneItem(item)
			added.Position = len(inv.Items)
			inv.Items = append(inv.Items, added)
			inv.Recalculate()
			return added, nil
		})
}

// RemoveItem deletes one line. The last line cannot be removed; cancel the
// invoice instead.
func (s *Service) RemoveItem(ctx context.Context, id, itemID snowflake.ID) error {
	_, err := s.mutateInvoice(ctx, id, false, func(ctx context.Context, inv *domain.Invoice) error {
		if !inv.Editable() {
			return domain.ErrInvoiceNotEditable
		}
		kept := inv.Items[:0]
		found := false
		for _, item := range inv.Items {
			if item.ID == itemID {
				found = true
				continue
			}
			kept = append(kept, item)
		}
		if !found {
			return domain.ErrItemNotFound
		}
		if len(kept) == 0 {
			return domain.ErrInvalidItem
		}
		inv.Items = kept
		inv.Recalculate()
		return nil
	})
	return err
}

// SetItemAttribute upserts an attribute. An empty value removes it.
func (s *Service) SetItemAttribute(ctx context.Context, id, itemID snowflake.ID, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 128 {
		return domain.ErrInvalidAttributeKey
	}
	_, err := s.mutateInvoice(ctx, id, true, func(ctx context.Context, inv *domain.Invoice) error {
		if inv.IsClosed() {
			return domain.ErrInvoiceClosed
		}
		item := inv.FindItem(itemID)
		if item == nil {
			return domain.ErrItemNotFound
		}
		if value == "" {
			kept := item.Attributes[:0]
			for _, attr := range item.Attributes {
				if attr.Key != key {
					kept = append(kept, attr)
				}
			}
			item.Attributes = kept
			return nil
		}
		if attr := item.Attribute(key); attr != nil {
			attr.Value = value
			return nil
		}
		item.Attributes = append(item.Attributes, &domain.ItemAttribute{Key: key, Value: value})
		return nil
	})
	return err
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	inv, err := s.repo.GetByID(ctx, s.db, id, true)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, &domain.NotFoundError{InvoiceID: id}
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	invoices, err := s.repo.List(ctx, s.db, domain.ListFilter{
		UserID:     req.UserID,
		Status:     req.Status,
		Pagination: req.Pagination,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	page, info := pagination.BuildCursorPageInfo(invoices, int32(req.Pagination.Size()), func(inv *domain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: inv.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	return domain.ListResponse{PageInfo: *info, Invoices: page}, nil
}

func (s *Service) RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.renderer.Render(ctx, inv)
}

func (s *Service) mutateRequest(id snowflake.ID, includeDetails bool) domain.MutateRequest {
	return domain.MutateRequest{
		InvoiceID:       id,
		IncludeDetails:  includeDetails,
		NotFoundMessage: fmt.Sprintf("invoice %s does not exist", id),
	}
}

func (s *Service) mutateInvoice(ctx context.Context, id snowflake.ID, includeDetails bool, fn domain.Mutation) (*domain.Invoice, error) {
	return repository.MutateValue(ctx, s.repo, s.mutateRequest(id, includeDetails),
		func(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
			if err := fn(ctx, inv); err != nil {
				return nil, err
			}
			return inv, nil
		})
}

func newItem(input domain.ItemInput, position int) (*domain.Item, error) {
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, domain.ErrInvalidItem
	}
	if input.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if input.UnitPrice.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	if input.DiscountAmount != nil && input.DiscountAmount.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	itemType := input.ItemType
	if itemType == "" {
		itemType = domain.ItemTypeCustom
	}

	item := &domain.Item{
		ItemType:       itemType,
		ReferenceID:    input.ReferenceID,
		Description:    description,
		Quantity:       input.Quantity,
		UnitPrice:      input.UnitPrice,
		DiscountAmount: input.DiscountAmount,
		Position:       position,
	}

	keys := make([]string, 0, len(input.Attributes))
	for k := range input.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.TrimSpace(k)
		if key == "" {
			return nil, domain.ErrInvalidAttributeKey
		}
		item.Attributes = append(item.Attributes, &domain.ItemAttribute{Key: key, Value: input.Attributes[k]})
	}
	return item, nil
}

// mergeItem copies the editable fields of next onto existing, keeping the ids
// of attributes whose key survives.
func mergeItem(existing, next *domain.Item) {
	existing.ItemType = next.ItemType
	existing.ReferenceID = next.ReferenceID
	existing.Description = next.Description
	existing.Quantity = next.Quantity
	existing.UnitPrice = next.UnitPrice
	existing.DiscountAmount = next.DiscountAmount
	existing.Position = next.Position

	attrs := make([]*domain.ItemAttribute, 0, len(next.Attributes))
	for _, attr := range next.Attributes {
		if current := existing.Attribute(attr.Key); current != nil {
			current.Value = attr.Value
			attrs = append(attrs, current)
			continue
		}
		attrs = append(attrs, attr)
	}
	existing.Attributes = attrs
}

// cloneItem copies item so that a retried mutation never reuses ids assigned
// during a rolled-back attempt.
func cloneItem(item *domain.Item) *domain.Item {
	out := *item
	out.Attributes = make([]*domain.ItemAttribute, 0, len(item.Attributes))
	for _, attr := range item.Attributes {
		a := *attr
		out.Attributes = append(out.Attributes, &a)
	}
	return &out
}
