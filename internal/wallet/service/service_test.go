package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/wallet/domain"
	"github.com/smallbiznis/storefront/internal/wallet/repository"
	"github.com/smallbiznis/storefront/internal/wallet/service"
	"github.com/smallbiznis/storefront/pkg/db/dbtest"
)

func newService(t *testing.T) (domain.Service, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := service.New(service.Params{
		DB:    dbtest.OpenMemory(t, &domain.Transaction{}),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, node
}

func TestDepositValidation(t *testing.T) {
	ctx := context.Background()
	svc, node := newService(t)
	userID := node.Generate()

	_, err := svc.Deposit(ctx, domain.DepositRequest{Amount: decimal.NewFromInt(5), Currency: "USD"})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
	_, err = svc.Deposit(ctx, domain.DepositRequest{UserID: userID, Amount: decimal.Zero, Currency: "USD"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = svc.Deposit(ctx, domain.DepositRequest{UserID: userID, Amount: decimal.NewFromInt(5), Currency: "dollars"})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)
}

func TestDepositThenBalance(t *testing.T) {
	ctx := context.Background()
	svc, node := newService(t)
	userID := node.Generate()

	txn, err := svc.Deposit(ctx, domain.DepositRequest{UserID: userID, Amount: decimal.RequireFromString("12.25"), Currency: " usd "})
	require.NoError(t, err)
	assert.Equal(t, "USD", txn.Currency)
	assert.Equal(t, domain.TransactionDeposit, txn.Type)

	_, err = svc.Deposit(ctx, domain.DepositRequest{UserID: userID, Amount: decimal.NewFromInt(10), Currency: "USD"})
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, userID, "USD")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("22.25").Equal(balance), balance.String())

	rows, err := svc.List(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = svc.Balance(ctx, 0, "USD")
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}
