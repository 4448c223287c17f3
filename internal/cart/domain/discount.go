package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/smallbiznis/storefront/pkg/db"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

// DiscountSnapshot is the evaluated discount stored on a cart. It is a cached
// projection of the code and is recomputed whenever the items change.
type DiscountSnapshot struct {
	Code             string          `json:"code,omitempty" gorm:"type:varchar(64)"`
	Type             DiscountType    `json:"type,omitempty" gorm:"type:varchar(16)"`
	Value            decimal.Decimal `json:"value" gorm:"type:numeric(18,4);not null;default:0"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null;default:0"`
	Capped           bool            `json:"capped" gorm:"not null;default:false"`
	OriginalSubtotal decimal.Decimal `json:"original_subtotal" gorm:"type:numeric(18,2);not null;default:0"`
	EvaluatedAt      *time.Time      `json:"evaluated_at,omitempty"`
}

// DiscountCode is a redeemable code.
type DiscountCode struct {
	ID          snowflake.ID     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Code        string           `json:"code" gorm:"type:varchar(64);not null;uniqueIndex"`
	Type        DiscountType     `json:"type" gorm:"type:varchar(16);not null"`
	Value       decimal.Decimal  `json:"value" gorm:"type:numeric(18,4);not null"`
	MaxAmount   *decimal.Decimal `json:"max_amount,omitempty" gorm:"type:numeric(18,2)"`
	MinSubtotal decimal.Decimal  `json:"min_subtotal" gorm:"type:numeric(18,2);not null;default:0"`
	StartsAt    *time.Time       `json:"starts_at,omitempty"`
	EndsAt      *time.Time       `json:"ends_at,omitempty"`
	Active      bool             `json:"active" gorm:"not null;default:true"`
	db.Audit
}

func (DiscountCode) TableName() string { return "discount_codes" }

// NormalizeCode trims and upper-cases a code as entered by a shopper.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate computes the discount for subtotal at now. The amount never
// exceeds the subtotal or the code's MaxAmount; Capped reports that either
// bound applied.
func (d *DiscountCode) Evaluate(subtotal decimal.Decimal, now time.Time) (DiscountSnapshot, error) {
	if d == nil {
		return DiscountSnapshot{}, ErrDiscountNotFound
	}
	if !d.Active {
		return DiscountSnapshot{}, ErrDiscountInactive
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return DiscountSnapshot{}, ErrDiscountInactive
	}
	if d.EndsAt != nil && !now.Before(*d.EndsAt) {
		return DiscountSnapshot{}, ErrDiscountExpired
	}
	if subtotal.LessThan(d.MinSubtotal) {
		return DiscountSnapshot{}, ErrDiscountMinimum
	}

	var amount decimal.Decimal
	switch d.Type {
	case DiscountPercentage:
		if d.Value.IsNegative() || d.Value.GreaterThan(decimal.NewFromInt(100)) {
			return DiscountSnapshot{}, ErrInvalidDiscount
		}
		amount = subtotal.Mul(d.Value).Div(decimal.NewFromInt(100)).Round(2)
	case DiscountFixed:
		if d.Value.IsNegative() {
			return DiscountSnapshot{}, ErrInvalidDiscount
		}
		amount = d.Value.Round(2)
	default:
		return DiscountSnapshot{}, ErrInvalidDiscount
	}

	capped := false
	if d.MaxAmount != nil && amount.GreaterThan(*d.MaxAmount) {
		amount = *d.MaxAmount
		capped = true
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
		capped = true
	}

	evaluated := now.UTC()
	return DiscountSnapshot{
		Code:             d.Code,
		Type:             d.Type,
		Value:            d.Value,
		Amount:           amount,
		Capped:           capped,
		OriginalSubtotal: subtotal,
		EvaluatedAt:      &evaluated,
	}, nil
}

// MergePolicy decides the quantity of a product present in both carts when
// a guest cart is merged into a user's cart.
type MergePolicy string

const (
	// MergeSum adds both quantities, capped at the per-line maximum.
	MergeSum MergePolicy = "sum"
	// MergeKeepUser keeps the user's line untouched.
	MergeKeepUser MergePolicy = "keep_user"
)

func ParseMergePolicy(v string) (MergePolicy, error) {
	switch MergePolicy(strings.ToLower(strings.TrimSpace(v))) {
	case MergeSum:
		return MergeSum, nil
	case MergeKeepUser:
		return MergeKeepUser, nil
	default:
		return "", ErrInvalidMergePolicy
	}
}
