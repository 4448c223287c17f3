package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/pkg/db/option"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"github.com/smallbiznis/storefront/pkg/repository"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) store(db *gorm.DB) repository.Repository[domain.Notification] {
	return repository.ProvideStore[domain.Notification](db)
}

func (r *repo) Add(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	return r.store(db).Create(ctx, n)
}

// MarkRead is idempotent for notifications that are already read.
func (r *repo) MarkRead(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).
		UpdateColumn("read_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	existing, err := r.store(db).FindOne(ctx, &domain.Notification{ID: id, UserID: userID})
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) MarkAllRead(ctx context.Context, db *gorm.DB, userID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		UpdateColumn("read_at", at.UTC())
	return res.RowsAffected, res.Error
}

func (r *repo) UnreadCount(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	return r.store(db).Count(ctx, &domain.Notification{UserID: userID}, option.IsNull("read_at"))
}

func (r *repo) CountsByKind(ctx context.Context, db *gorm.DB, userID snowflake.ID) (map[domain.Kind]int64, error) {
	var rows []struct {
		Kind  domain.Kind
		Total int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT kind, COUNT(*) AS total
		 FROM notifications
		 WHERE user_id = ? AND read_at IS NULL AND deleted_at IS NULL
		 GROUP BY kind`,
		userID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.Kind]int64, len(rows))
	for _, row := range rows {
		counts[row.Kind] = row.Total
	}
	return counts, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, unreadOnly bool, page pagination.Pagination) ([]*domain.Notification, error) {
	opts := []option.QueryOption{
		option.ApplyPagination(page),
		option.WithSortBy(option.WithQuerySortBy("id", "desc", map[string]bool{"id": true})),
	}
	if unreadOnly {
		opts = append(opts, option.IsNull("read_at"))
	}
	return r.store(db).Find(ctx, &domain.Notification{UserID: userID}, opts...)
}
