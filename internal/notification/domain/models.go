package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

type Kind string

const (
	KindOrder     Kind = "order"
	KindPayment   Kind = "payment"
	KindSystem    Kind = "system"
	KindPromotion Kind = "promotion"
)

func (k Kind) Valid() bool {
	switch k {
	case KindOrder, KindPayment, KindSystem, KindPromotion:
		return true
	default:
		return false
	}
}

type Notification struct {
	ID     snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID snowflake.ID `json:"user_id" gorm:"not null;index"`
	Kind   Kind         `json:"kind" gorm:"type:varchar(32);not null"`
	Title  string       `json:"title" gorm:"type:varchar(255);not null"`
	Body   string       `json:"body,omitempty" gorm:"type:text"`
	Link   string       `json:"link,omitempty" gorm:"type:varchar(512)"`
	ReadAt *time.Time   `json:"read_at,omitempty"`
	db.Audit
}

func (Notification) TableName() string { return "notifications" }

func (n Notification) IsRead() bool { return n.ReadAt != nil }

type Repository interface {
	Add(ctx context.Context, db *gorm.DB, n *Notification) error
	MarkRead(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, at time.Time) error
	MarkAllRead(ctx context.Context, db *gorm.DB, userID snowflake.ID, at time.Time) (int64, error)
	UnreadCount(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	CountsByKind(ctx context.Context, db *gorm.DB, userID snowflake.ID) (map[Kind]int64, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, unreadOnly bool, page pagination.Pagination) ([]*Notification, error)
}

type Service interface {
	Notify(ctx context.Context, req NotifyRequest) (*Notification, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	MarkRead(ctx context.Context, userID, id snowflake.ID) error
	MarkAllRead(ctx context.Context, userID snowflake.ID) (int64, error)

	// UnreadBadge and UnreadByKind never fail; a broken query reads as zero.
	UnreadBadge(ctx context.Context, userID snowflake.ID) int64
	UnreadByKind(ctx context.Context, userID snowflake.ID) map[Kind]int64
}

type NotifyRequest struct {
	UserID snowflake.ID
	Kind   Kind
	Title  string
	Body   string
	Link   string
}

type ListRequest struct {
	pagination.Pagination
	UserID     snowflake.ID
	UnreadOnly bool
}

type ListResponse struct {
	Items    []*Notification      `json:"items"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidUser  = errors.New("invalid_user")
	ErrInvalidKind  = errors.New("invalid_kind")
	ErrInvalidTitle = errors.New("invalid_title")
	ErrNotFound     = errors.New("notification_not_found")
)
