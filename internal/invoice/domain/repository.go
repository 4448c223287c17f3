package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

// Mutation inspects and changes the freshly loaded aggregate in memory. It
// must not write to the database itself; returning an error aborts the
// mutation and rolls back without retry.
type Mutation func(ctx context.Context, inv *Invoice) error

type MutateRequest struct {
	InvoiceID snowflake.ID
	// IncludeDetails also loads item attributes, payments and wallet
	// transactions. Attribute rows of surviving items are only deleted when
	// the details were loaded.
	IncludeDetails  bool
	NotFoundMessage string

	// Locks names further resources to hold for the attempt, acquired with
	// the same locker after the invoice lock. Callers must never take one of
	// these before an invoice lock.
	Locks []string
	// Prepare runs in the attempt transaction after every lock is held and
	// the invoice is loaded, before the mutation. It is for reads of state
	// guarded by Locks; its errors are treated as persistence failures.
	Prepare func(ctx context.Context, tx *gorm.DB, inv *Invoice) error
}

type ListFilter struct {
	UserID *snowflake.ID
	Status *InvoiceStatus
	pagination.Pagination
}

type Repository interface {
	Add(ctx context.Context, db *gorm.DB, inv *Invoice) error
	GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID, includeDetails bool) (*Invoice, error)
	GetByNumber(ctx context.Context, db *gorm.DB, number string) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	NextSequence(ctx context.Context, db *gorm.DB) (int64, error)

	// Mutate runs fn on the invoice under its exclusive lock and persists the
	// result, retrying on concurrent modification.
	Mutate(ctx context.Context, req MutateRequest, fn Mutation) error
}
