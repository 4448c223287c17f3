package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/storefront/internal/wallet/domain"
	"github.com/smallbiznis/storefront/internal/wallet/repository"
	"github.com/smallbiznis/storefront/pkg/db/dbtest"
)

func TestBalanceSumsSignedRows(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.OpenMemory(t, &domain.Transaction{})
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	userID := node.Generate()
	other := node.Generate()
	now := time.Now().UTC()

	rows := []*domain.Transaction{
		{ID: node.Generate(), UserID: userID, Type: domain.TransactionDeposit, Amount: decimal.NewFromInt(100), Currency: "USD"},
		{ID: node.Generate(), UserID: userID, Type: domain.TransactionPayment, Amount: decimal.RequireFromString("30.50"), Currency: "USD"},
		{ID: node.Generate(), UserID: userID, Type: domain.TransactionDeposit, Amount: decimal.NewFromInt(7), Currency: "EUR"},
		{ID: node.Generate(), UserID: other, Type: domain.TransactionDeposit, Amount: decimal.NewFromInt(999), Currency: "USD"},
	}
	for _, row := range rows {
		row.Stamp(nil, now)
		require.NoError(t, repo.Deposit(ctx, conn, row))
		assert.NotEmpty(t, row.Reference)
	}
	assert.True(t, rows[1].Amount.IsNegative(), "payments are stored as debits")

	balance, err := repo.Balance(ctx, conn, userID, "usd")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("69.50").Equal(balance), balance.String())

	items, err := repo.ListByUser(ctx, conn, userID, 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestSigned(t *testing.T) {
	ten := decimal.NewFromInt(10)
	assert.True(t, domain.Signed(domain.TransactionRefund, ten.Neg()).Equal(ten))
	assert.True(t, domain.Signed(domain.TransactionWithdrawal, ten).Equal(ten.Neg()))
}
