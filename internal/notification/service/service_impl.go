package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
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
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Notify(ctx context.Context, req domain.NotifyRequest) (*domain.Notification, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if !req.Kind.Valid() {
		return nil, domain.ErrInvalidKind
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTitle
	}

	n := &domain.Notification{
		ID:     s.genID.Generate(),
		UserID: req.UserID,
		Kind:   req.Kind,
		Title:  title,
		Body:   strings.TrimSpace(req.Body),
		Link:   strings.TrimSpace(req.Link),
	}
	n.Stamp(nil, s.clock.Now())

	if err := s.repo.Add(ctx, s.db, n); err != nil {
		s.log.Error("failed to add notification", zap.String("user_id", req.UserID.String()), zap.Error(err))
		return nil, err
	}
	return n, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.UserID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidUser
	}

	items, err := s.repo.ListByUser(ctx, s.db, req.UserID, req.UnreadOnly, req.Pagination)
	if err != nil {
		return domain.ListResponse{}, err
	}

	page, info := pagination.BuildCursorPageInfo(items, int32(req.Size()), func(n *domain.Notification) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: strconv.FormatInt(n.ID.Int64(), 10)})
		if err != nil {
			return ""
		}
		return token
	})
	return domain.ListResponse{Items: page, PageInfo: info}, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id snowflake.ID) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	return s.repo.MarkRead(ctx, s.db, userID, id, s.clock.Now())
}

func (s *Service) MarkAllRead(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, domain.ErrInvalidUser
	}
	return s.repo.MarkAllRead(ctx, s.db, userID, s.clock.Now())
}

func (s *Service) UnreadBadge(ctx context.Context, userID snowflake.ID) int64 {
	if userID == 0 {
		return 0
	}
	count, err := s.repo.UnreadCount(ctx, s.db, userID)
	if err != nil {
		s.log.Warn("unread badge unavailable", zap.String("user_id", userID.String()), zap.Error(err))
		return 0
	}
	return count
}

func (s *Service) UnreadByKind(ctx context.Context, userID snowflake.ID) map[domain.Kind]int64 {
	counts := map[domain.Kind]int64{}
	if userID == 0 {
		return counts
	}
	byKind, err := s.repo.CountsByKind(ctx, s.db, userID)
	if err != nil {
		s.log.Warn("unread counts unavailable", zap.String("user_id", userID.String()), zap.Error(err))
		return counts
	}
	return byKind
}
