package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/wallet/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// LockKey names the lock held while a user's balance is read and debited.
func LockKey(userID snowflake.ID) string {
	return "wallet:" + userID.String()
}

// NewReference returns a sortable unique ledger reference.
func NewReference(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}

func (r *repo) Deposit(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	if txn.Reference == "" {
		txn.Reference = NewReference("wtx")
	}
	txn.Amount = domain.Signed(txn.Type, txn.Amount)
	return db.WithContext(ctx).Create(txn).Error
}

// Balance sums the signed amounts of a user's rows in one currency.
func (r *repo) Balance(ctx context.Context, db *gorm.DB, userID snowflake.ID, currency string) (decimal.Decimal, error) {
	var rows []struct {
		Amount decimal.Decimal
	}
	err := db.WithContext(ctx).Raw(
		`SELECT amount FROM wallet_transactions
		 WHERE user_id = ? AND currency = ? AND deleted_at IS NULL`,
		userID,
		strings.ToUpper(currency),
	).Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Amount)
	}
	return total, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	var items []domain.Transaction
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
