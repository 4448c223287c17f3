// Package domain contains the invoice aggregate and its persistence models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	walletdomain "github.com/smallbiznis/storefront/internal/wallet/domain"
	"github.com/smallbiznis/storefront/pkg/db"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusPending       InvoiceStatus = "PENDING"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusCancelled     InvoiceStatus = "CANCELLED"
)

type ItemType string

const (
	ItemTypeProduct  ItemType = "PRODUCT"
	ItemTypeShipping ItemType = "SHIPPING"
	ItemTypeFee      ItemType = "FEE"
	ItemTypeCustom   ItemType = "CUSTOM"
)

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Invoice is the aggregate root. Items, payments and wallet transactions are
// only changed through Repository.Mutate.
type Invoice struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	InvoiceNumber    string            `json:"invoice_number" gorm:"type:varchar(64);not null;uniqueIndex"`
	SequenceNo       int64             `json:"sequence_no" gorm:"not null;index"`
	UserID           *snowflake.ID     `json:"user_id,omitempty" gorm:"index"`
	CartID           *snowflake.ID     `json:"cart_id,omitempty" gorm:"index"`
	Status           InvoiceStatus     `json:"status" gorm:"type:varchar(32);not null"`
	Currency         string            `json:"currency" gorm:"type:varchar(3);not null"`
	TaxRate          decimal.Decimal   `json:"tax_rate" gorm:"type:numeric(6,4);not null"`
	TaxAmount        decimal.Decimal   `json:"tax_amount" gorm:"type:numeric(18,2);not null"`
	AdjustmentAmount decimal.Decimal   `json:"adjustment_amount" gorm:"type:numeric(18,2);not null"`
	DueAt            *time.Time        `json:"due_at,omitempty"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty"`
	Notes            string            `json:"notes,omitempty" gorm:"type:text"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	Version          int64             `json:"version" gorm:"not null;default:1"`
	db.Audit

	Items              []*Item                     `json:"items" gorm:"foreignKey:InvoiceID"`
	Payments           []*PaymentTransaction       `json:"payments,omitempty" gorm:"foreignKey:InvoiceID"`
	WalletTransactions []*walletdomain.Transaction `json:"wallet_transactions,omitempty" gorm:"foreignKey:InvoiceID"`
}

func (Invoice) TableName() string { return "invoices" }

// Item is a line on an invoice.
type Item struct {
	ID             snowflake.ID     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	InvoiceID      snowflake.ID     `json:"invoice_id" gorm:"not null;index"`
	ItemType       ItemType         `json:"item_type" gorm:"type:varchar(32);not null"`
	ReferenceID    *snowflake.ID    `json:"reference_id,omitempty" gorm:"index"`
	Description    string           `json:"description" gorm:"type:text;not null"`
	Quantity       int64            `json:"quantity" gorm:"not null"`
	UnitPrice      decimal.Decimal  `json:"unit_price" gorm:"type:numeric(18,2);not null"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty" gorm:"type:numeric(18,2)"`
	Position       int              `json:"position" gorm:"not null;default:0"`
	db.Audit

	Attributes []*ItemAttribute `json:"attributes,omitempty" gorm:"foreignKey:ItemID"`
}

func (Item) TableName() string { return "invoice_items" }

// LineTotal is quantity × unit price less the line discount, never negative.
func (i *Item) LineTotal() decimal.Decimal {
	total := i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
	if i.DiscountAmount != nil {
		total = total.Sub(*i.DiscountAmount)
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Attribute returns the attribute stored under key.
func (i *Item) Attribute(key string) *ItemAttribute {
	for _, attr := range i.Attributes {
		if attr != nil && attr.Key == key {
			return attr
		}
	}
	return nil
}

// ItemAttribute is a free-form key/value attached to an item.
type ItemAttribute struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	InvoiceID snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	ItemID    snowflake.ID `json:"item_id" gorm:"not null;index"`
	Key       string       `json:"key" gorm:"type:varchar(128);not null"`
	Value     string       `json:"value" gorm:"type:text;not null"`
	db.Audit
}

func (ItemAttribute) TableName() string { return "invoice_item_attributes" }

// PaymentTransaction is an immutable record of money received for an invoice.
type PaymentTransaction struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	InvoiceID   snowflake.ID      `json:"invoice_id" gorm:"not null;index"`
	Gateway     string            `json:"gateway" gorm:"type:varchar(64);not null"`
	Reference   string            `json:"reference" gorm:"type:varchar(128);not null;uniqueIndex"`
	ExternalRef string            `json:"external_ref,omitempty" gorm:"type:varchar(255)"`
	Status      PaymentStatus     `json:"status" gorm:"type:varchar(32);not null"`
	Amount      decimal.Decimal   `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency    string            `json:"currency" gorm:"type:varchar(3);not null"`
	PaidAt      time.Time         `json:"paid_at" gorm:"not null"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	db.Audit
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

// Subtotal sums the line totals.
func (inv *Invoice) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range inv.Items {
		if item != nil {
			total = total.Add(item.LineTotal())
		}
	}
	return total
}

func (inv *Invoice) Total() decimal.Decimal {
	return inv.Subtotal().Add(inv.TaxAmount).Add(inv.AdjustmentAmount)
}

// PaidAmount sums succeeded payments and wallet debits. It is only complete
// when the invoice was loaded with details.
func (inv *Invoice) PaidAmount() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range inv.Payments {
		if p != nil && p.Status == PaymentStatusSucceeded {
			paid = paid.Add(p.Amount)
		}
	}
	for _, w := range inv.WalletTransactions {
		if w == nil {
			continue
		}
		switch w.Type {
		case walletdomain.TransactionPayment:
			paid = paid.Add(w.Amount.Abs())
		case walletdomain.TransactionRefund:
			paid = paid.Sub(w.Amount.Abs())
		}
	}
	return paid
}

// Outstanding is the amount still owed.
func (inv *Invoice) Outstanding() decimal.Decimal {
	return inv.Total().Sub(inv.PaidAmount())
}

// Recalculate refreshes the tax amount from the current items.
func (inv *Invoice) Recalculate() {
	inv.TaxAmount = inv.Subtotal().Mul(inv.TaxRate).Round(2)
}

func (inv *Invoice) FindItem(id snowflake.ID) *Item {
	for _, item := range inv.Items {
		if item != nil && item.ID == id {
			return item
		}
	}
	return nil
}

func (inv *Invoice) IsClosed() bool {
	return inv.Status == InvoiceStatusCancelled
}

// Editable reports whether items may still change: no money has been
// received and the invoice is not closed.
func (inv *Invoice) Editable() bool {
	return inv.Status == InvoiceStatusPending
}

// ApplyPayment appends p after checking it against the outstanding amount
// and moves the invoice forward. An invoice marked paid manually still
// accepts payments up to its outstanding amount.
func (inv *Invoice) ApplyPayment(p *PaymentTransaction, now time.Time) error {
	if inv.IsClosed() {
		return ErrInvoiceClosed
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if p.Currency != inv.Currency {
		return ErrCurrencyMismatch
	}
	if p.Status == PaymentStatusSucceeded && p.Amount.GreaterThan(inv.Outstanding()) {
		return ErrOverpayment
	}
	p.InvoiceID = inv.ID
	inv.Payments = append(inv.Payments, p)
	inv.settle(now)
	return nil
}

// ApplyWalletPayment appends a wallet debit for this invoice.
func (inv *Invoice) ApplyWalletPayment(w *walletdomain.Transaction, now time.Time) error {
	if inv.IsClosed() {
		return ErrInvoiceClosed
	}
	if w.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if w.Currency != inv.Currency {
		return ErrCurrencyMismatch
	}
	if w.Amount.Abs().GreaterThan(inv.Outstanding()) {
		return ErrOverpayment
	}
	id := inv.ID
	w.InvoiceID = &id
	w.Type = walletdomain.TransactionPayment
	w.Amount = walletdomain.Signed(w.Type, w.Amount)
	inv.WalletTransactions = append(inv.WalletTransactions, w)
	inv.settle(now)
	return nil
}

func (inv *Invoice) settle(now time.Time) {
	if inv.Status == InvoiceStatusPaid {
		return
	}
	if !inv.Outstanding().IsPositive() {
		inv.Status = InvoiceStatusPaid
		paidAt := now.UTC()
		inv.PaidAt = &paidAt
		return
	}
	if inv.PaidAmount().IsPositive() {
		inv.Status = InvoiceStatusPartiallyPaid
	}
}

// MarkPaid closes the invoice as paid. Marking a paid invoice again is a no-op.
func (inv *Invoice) MarkPaid(now time.Time) error {
	switch inv.Status {
	case InvoiceStatusPaid:
		return nil
	case InvoiceStatusCancelled:
		return ErrInvoiceClosed
	}
	inv.Status = InvoiceStatusPaid
	paidAt := now.UTC()
	inv.PaidAt = &paidAt
	return nil
}

// Cancel voids an invoice that has not received money.
func (inv *Invoice) Cancel(now time.Time) error {
	switch inv.Status {
	case InvoiceStatusCancelled:
		return nil
	case InvoiceStatusPaid, InvoiceStatusPartiallyPaid:
		return ErrInvoiceNotCancellable
	}
	if inv.PaidAmount().IsPositive() {
		return ErrInvoiceNotCancellable
	}
	inv.Status = InvoiceStatusCancelled
	cancelledAt := now.UTC()
	inv.CancelledAt = &cancelledAt
	return nil
}
