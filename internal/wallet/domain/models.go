// Package domain contains the wallet ledger model.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/pkg/db"
)

type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
	TransactionPayment    TransactionType = "PAYMENT"
	TransactionRefund     TransactionType = "REFUND"
)

// Transaction is an immutable wallet ledger row. Amount is signed: credits
// are positive and debits negative.
type Transaction struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID      snowflake.ID    `json:"user_id" gorm:"not null;index"`
	InvoiceID   *snowflake.ID   `json:"invoice_id,omitempty" gorm:"index"`
	Type        TransactionType `json:"type" gorm:"type:varchar(32);not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency    string          `json:"currency" gorm:"type:varchar(3);not null"`
	Reference   string          `json:"reference" gorm:"type:varchar(64);not null;uniqueIndex"`
	Description string          `json:"description,omitempty" gorm:"type:text"`
	db.Audit
}

func (Transaction) TableName() string { return "wallet_transactions" }

// Signed returns amount with the sign implied by t.
func Signed(t TransactionType, amount decimal.Decimal) decimal.Decimal {
	amount = amount.Abs()
	switch t {
	case TransactionWithdrawal, TransactionPayment:
		return amount.Neg()
	default:
		return amount
	}
}

type Repository interface {
	Deposit(ctx context.Context, db *gorm.DB, txn *Transaction) error
	Balance(ctx context.Context, db *gorm.DB, userID snowflake.ID, currency string) (decimal.Decimal, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]Transaction, error)
}

type Service interface {
	Deposit(ctx context.Context, req DepositRequest) (*Transaction, error)
	Balance(ctx context.Context, userID snowflake.ID, currency string) (decimal.Decimal, error)
	List(ctx context.Context, userID snowflake.ID, limit int) ([]Transaction, error)
}

type DepositRequest struct {
	UserID      snowflake.ID
	Amount      decimal.Decimal
	Currency    string
	Description string
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInsufficientBalance = errors.New("insufficient_balance")
)
