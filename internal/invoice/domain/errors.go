package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidInvoiceID      = errors.New("invalid_invoice_id")
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrConcurrencyConflict   = errors.New("concurrency_conflict")
	ErrPersistence           = errors.New("persistence_error")
	ErrLockTimeout           = errors.New("lock_timeout")
	ErrLockFailed            = errors.New("lock_failed")
	ErrUnexpected            = errors.New("unexpected_error")
	ErrInvoiceClosed         = errors.New("invoice_closed")
	ErrInvoiceNotEditable    = errors.New("invoice_not_editable")
	ErrInvoiceNotCancellable = errors.New("invoice_not_cancellable")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrOverpayment           = errors.New("overpayment")
	ErrCurrencyMismatch      = errors.New("currency_mismatch")
	ErrInvalidItem           = errors.New("invalid_item")
	ErrInvalidQuantity       = errors.New("invalid_quantity")
	ErrItemNotFound          = errors.New("item_not_found")
	ErrInvalidAttributeKey   = errors.New("invalid_attribute_key")
	ErrEmptyCart             = errors.New("empty_cart")
	ErrInvalidGateway        = errors.New("invalid_gateway")
	ErrInsufficientBalance   = errors.New("insufficient_wallet_balance")
)

// NotFoundError reports a missing invoice with the caller's message.
type NotFoundError struct {
	InvoiceID snowflake.ID
	Message   string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("invoice %s not found", e.InvoiceID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrInvoiceNotFound }

// ConflictError is returned once the retry budget is spent on concurrent
// modifications. Description names the conflicting rows and fields.
type ConflictError struct {
	InvoiceID   snowflake.ID
	Attempts    int
	Description string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("invoice %s was modified concurrently (%d attempts): %s", e.InvoiceID, e.Attempts, e.Description)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

// PersistenceError wraps a database failure unrelated to concurrency.
type PersistenceError struct {
	InvoiceID snowflake.ID
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to save invoice %s: %v", e.InvoiceID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// LockError reports that the invoice lock could not be taken.
type LockError struct {
	Key     string
	Timeout bool
	Err     error
}

func (e *LockError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("timed out waiting for lock %s", e.Key)
	}
	return fmt.Sprintf("failed to acquire lock %s: %v", e.Key, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

func (e *LockError) Is(target error) bool {
	if e.Timeout {
		return target == ErrLockTimeout
	}
	return target == ErrLockFailed
}

// UnexpectedError wraps any other failure, including recovered panics.
type UnexpectedError struct {
	InvoiceID snowflake.ID
	Err       error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error while updating invoice %s: %v", e.InvoiceID, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

func (e *UnexpectedError) Is(target error) bool { return target == ErrUnexpected }
