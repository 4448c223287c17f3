package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	walletdomain "github.com/smallbiznis/storefront/internal/wallet/domain"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

type ItemInput struct {
	ID             *snowflake.ID     `json:"id,omitempty"`
	ItemType       ItemType          `json:"item_type"`
	ReferenceID    *snowflake.ID     `json:"reference_id,omitempty"`
	Description    string            `json:"description"`
	Quantity       int64             `json:"quantity"`
	UnitPrice      decimal.Decimal   `json:"unit_price"`
	DiscountAmount *decimal.Decimal  `json:"discount_amount,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

type CreateRequest struct {
	UserID           *snowflake.ID   `json:"user_id,omitempty"`
	Currency         string          `json:"currency"`
	Items            []ItemInput     `json:"items"`
	AdjustmentAmount decimal.Decimal `json:"adjustment_amount"`
	Notes            string          `json:"notes,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}

type CreateFromCartRequest struct {
	CartID snowflake.ID `json:"cart_id"`
	Notes  string       `json:"notes,omitempty"`
}

type RecordPaymentRequest struct {
	InvoiceID   snowflake.ID    `json:"invoice_id"`
	Gateway     string          `json:"gateway"`
	ExternalRef string          `json:"external_ref,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Failed      bool            `json:"failed,omitempty"`
}

type WalletPaymentRequest struct {
	InvoiceID snowflake.ID `json:"invoice_id"`
	UserID    snowflake.ID `json:"user_id"`
	// Amount defaults to the outstanding amount, capped by the balance.
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type ListRequest struct {
	UserID *snowflake.ID
	Status *InvoiceStatus
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Invoices []*Invoice `json:"invoices"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Invoice, error)
	CreateFromCart(ctx context.Context, req CreateFromCartRequest) (*Invoice, error)
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentTransaction, error)
	PayWithWallet(ctx context.Context, req WalletPaymentRequest) (*walletdomain.Transaction, error)
	MarkPaid(ctx context.Context, id snowflake.ID) (*Invoice, error)
	Cancel(ctx context.Context, id snowflake.ID, reason string) (*Invoice, error)
	ReplaceItems(ctx context.Context, id snowflake.ID, items []ItemInput) (*Invoice, error)
	AddItem(ctx context.Context, id snowflake.ID, item ItemInput) (*Item, error)
	RemoveItem(ctx context.Context, id, itemID snowflake.ID) error
	SetItemAttribute(ctx context.Context, id, itemID snowflake.ID, key, value string) error
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error)
}
