package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidID            = errors.New("invalid_id")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidType          = errors.New("invalid_type")
	ErrNotFound             = errors.New("not_found")
	ErrDuplicateSlug        = errors.New("duplicate_slug")
	ErrInvalidVariantOption = errors.New("invalid_variant_option")
	ErrConcurrencyConflict  = errors.New("product_concurrently_modified")
)

// ConflictError reports that the stored product version moved on.
type ConflictError struct {
	ProductID   snowflake.ID
	Description string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("product %s was modified concurrently: %s", e.ProductID, e.Description)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }
