package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists carts. Lookups return nil without an error when no
// cart matches.
type Repository interface {
	Add(ctx context.Context, db *gorm.DB, cart *Cart) error
	GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Cart, error)
	GetByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Cart, error)
	GetByAnonymousID(ctx context.Context, db *gorm.DB, anonymousID string) (*Cart, error)
	// Update reconciles the items of cart against the stored rows and saves
	// the cart. It fails with *ConflictError when the stored cart changed
	// while the update ran.
	Update(ctx context.Context, db *gorm.DB, cart *Cart) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindDiscountCode(ctx context.Context, db *gorm.DB, code string) (*DiscountCode, error)
}
