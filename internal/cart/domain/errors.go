package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidCartID      = errors.New("invalid_cart_id")
	ErrInvalidOwner       = errors.New("invalid_cart_owner")
	ErrCartNotFound       = errors.New("cart_not_found")
	ErrCartConflict       = errors.New("cart_concurrently_modified")
	ErrInvalidProduct     = errors.New("invalid_product")
	ErrProductUnavailable = errors.New("product_unavailable")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrQuantityLimit      = errors.New("quantity_limit_exceeded")
	ErrItemNotFound       = errors.New("cart_item_not_found")
	ErrCurrencyMismatch   = errors.New("currency_mismatch")
	ErrInvalidMergePolicy = errors.New("invalid_merge_policy")

	ErrDiscountNotFound = errors.New("discount_not_found")
	ErrDiscountInactive = errors.New("discount_inactive")
	ErrDiscountExpired  = errors.New("discount_expired")
	ErrDiscountMinimum  = errors.New("discount_minimum_not_met")
	ErrInvalidDiscount  = errors.New("invalid_discount")
)

// ConflictError reports that the stored cart changed between load and save.
type ConflictError struct {
	CartID      snowflake.ID
	Description string
}

func (e *ConflictError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("cart %s was modified concurrently", e.CartID)
	}
	return fmt.Sprintf("cart %s was modified concurrently: %s", e.CartID, e.Description)
}

func (e *ConflictError) Is(target error) bool { return target == ErrCartConflict }
