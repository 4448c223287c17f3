package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/wallet/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("wallet.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Deposit(ctx context.Context, req domain.DepositRequest) (*domain.Transaction, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}

	txn := &domain.Transaction{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		Type:        domain.TransactionDeposit,
		Amount:      req.Amount,
		Currency:    currency,
		Description: strings.TrimSpace(req.Description),
	}
	actor := req.UserID
	txn.Stamp(&actor, s.clock.Now())

	if err := s.repo.Deposit(ctx, s.db, txn); err != nil {
		s.log.Error("failed to record deposit", zap.String("user_id", req.UserID.String()), zap.Error(err))
		return nil, err
	}
	return txn, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID, currency string) (decimal.Decimal, error) {
	if userID == 0 {
		return decimal.Zero, domain.ErrInvalidUser
	}
	return s.repo.Balance(ctx, s.db, userID, currency)
}

func (s *Service) List(ctx context.Context, userID snowflake.ID, limit int) ([]domain.Transaction, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	return s.repo.ListByUser(ctx, s.db, userID, limit)
}
