package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/invoice/domain"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/observability/tracing"
	"github.com/smallbiznis/storefront/pkg/changeset"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/lock"
)

const tracerName = "storefront/invoice"

// conflict is a retryable attempt failure.
type conflict struct {
	kind        string
	description string
	phantoms    int
	changed     int
}

func (c *conflict) Error() string {
	return fmt.Sprintf("%s conflict: %s", c.kind, c.description)
}

// MutateValue runs fn through r.Mutate and returns the value produced by the
// attempt that committed.
func MutateValue[T any](ctx context.Context, r domain.Repository, req domain.MutateRequest, fn func(ctx context.Context, inv *domain.Invoice) (T, error)) (T, error) {
	var out T
	err := r.Mutate(ctx, req, func(ctx context.Context, inv *domain.Invoice) error {
		v, err := fn(ctx, inv)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (r *repo) Mutate(ctx context.Context, req domain.MutateRequest, fn domain.Mutation) error {
	if req.InvoiceID == 0 {
		r.metrics.IncOutcome(metrics.AggregateInvoice, metrics.OutcomeInvalid)
		return domain.ErrInvalidInvoiceID
	}
	if fn == nil {
		return &domain.UnexpectedError{InvoiceID: req.InvoiceID, Err: errors.New("nil mutation")}
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "invoice.mutate",
		attribute.String("invoice.id", req.InvoiceID.String()),
		attribute.Bool("invoice.include_details", req.IncludeDetails),
	)
	defer span.End()

	log := r.log.With(zap.String("invoice_id", req.InvoiceID.String()))
	for attempt := 1; ; attempt++ {
		r.metrics.IncAttempt(metrics.AggregateInvoice)

		err := r.attempt(ctx, req, fn)
		if err == nil {
			r.metrics.IncOutcome(metrics.AggregateInvoice, metrics.OutcomeCommitted)
			span.SetAttributes(attribute.Int("invoice.attempts", attempt))
			return nil
		}

		var c *conflict
		if !errors.As(err, &c) {
			r.metrics.IncOutcome(metrics.AggregateInvoice, outcomeOf(err))
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "mutate failed")
			return err
		}

		r.metrics.IncConflict(metrics.AggregateInvoice, c.kind)
		log.Warn("invoice concurrency conflict",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.String("kind", c.kind),
			zap.Int("phantoms", c.phantoms),
			zap.Int("changed", c.changed),
			zap.String("detail", c.description),
		)

		if attempt >= r.maxAttempts {
			r.metrics.IncOutcome(metrics.AggregateInvoice, metrics.OutcomeConflict)
			span.SetStatus(codes.Error, "retry budget exhausted")
			return &domain.ConflictError{
				InvoiceID:   req.InvoiceID,
				Attempts:    attempt,
				Description: c.description,
			}
		}

		if err := sleep(ctx, r.backoff*time.Duration(attempt)); err != nil {
			r.metrics.IncOutcome(metrics.AggregateInvoice, metrics.OutcomeUnexpected)
			return &domain.UnexpectedError{InvoiceID: req.InvoiceID, Err: err}
		}
	}
}

// attempt runs one locked reload, mutate and save cycle. The transaction is
// always finished before it returns.
func (r *repo) attempt(ctx context.Context, req domain.MutateRequest, fn domain.Mutation) (err error) {
	tx := r.begin(ctx)
	if tx.Error != nil {
		return r.persistenceError(req.InvoiceID, tx.Error)
	}

	committed := false
	var releases []lock.Release
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("invoice mutation panicked",
				zap.String("invoice_id", req.InvoiceID.String()),
				zap.Any("panic", rec),
			)
			err = &domain.UnexpectedError{InvoiceID: req.InvoiceID, Err: fmt.Errorf("panic: %v", rec)}
		}
		if !committed {
			tx.Rollback()
		}
		for i := len(releases) - 1; i >= 0; i-- {
			if rerr := releases[i](context.WithoutCancel(ctx)); rerr != nil {
				r.log.Warn("failed to release invoice lock", zap.String("invoice_id", req.InvoiceID.String()), zap.Error(rerr))
			}
		}
	}()

	for _, key := range lockKeys(req) {
		started := time.Now()
		release, err := r.locker.Acquire(ctx, tx, key, r.lockTimeout)
		r.metrics.ObserveLockWait(metrics.AggregateInvoice, time.Since(started))
		if err != nil {
			timeout := errors.Is(err, lock.ErrTimeout)
			r.log.Warn("failed to acquire invoice lock", zap.String("key", key), zap.Bool("timeout", timeout), zap.Error(err))
			return &domain.LockError{Key: key, Timeout: timeout, Err: err}
		}
		releases = append(releases, release)
		r.log.Debug("invoice lock acquired", zap.String("key", key), zap.Duration("waited", time.Since(started)))
	}

	inv, err := r.load(ctx, tx, req.InvoiceID, req.IncludeDetails)
	if err != nil {
		return r.persistenceError(req.InvoiceID, err)
	}
	if inv == nil {
		return &domain.NotFoundError{InvoiceID: req.InvoiceID, Message: req.NotFoundMessage}
	}

	if req.Prepare != nil {
		if err := req.Prepare(ctx, tx, inv); err != nil {
			return r.persistenceError(req.InvoiceID, err)
		}
	}

	if err := fn(ctx, inv); err != nil {
		return err
	}

	r.assignIDs(inv)
	snap, err := loadSnapshot(ctx, tx, inv.ID)
	if err != nil {
		return r.persistenceError(req.InvoiceID, err)
	}
	set := buildChangeset(inv, snap, req.IncludeDetails, actorFrom(ctx), r.clock.Now())

	if r.testHookBeforeSave != nil {
		if err := r.testHookBeforeSave(ctx, tx); err != nil {
			return err
		}
	}

	if err := set.Apply(ctx, tx); err != nil {
		var cerr *changeset.ConflictError
		if errors.As(err, &cerr) {
			return r.resolve(ctx, tx, req.InvoiceID, cerr)
		}
		if db.IsSerializationErr(err) {
			return &conflict{kind: metrics.ConflictKindStale, description: err.Error()}
		}
		return r.persistenceError(req.InvoiceID, err)
	}

	if err := tx.Commit().Error; err != nil {
		if db.IsSerializationErr(err) {
			return &conflict{kind: metrics.ConflictKindStale, description: err.Error()}
		}
		return r.persistenceError(req.InvoiceID, err)
	}
	committed = true
	inv.Version++
	return nil
}

// resolve classifies the rows behind a failed apply for logs and metrics.
// Both kinds are retried the same way: the next attempt reloads the invoice
// and builds a fresh changeset, so phantom rows drop out on their own.
func (r *repo) resolve(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, cerr *changeset.ConflictError) error {
	res, err := changeset.Resolve(ctx, tx, cerr)
	if err != nil {
		return r.persistenceError(invoiceID, err)
	}

	kind := metrics.ConflictKindChanged
	if res.Retryable() {
		kind = metrics.ConflictKindPhantom
	}
	return &conflict{
		kind:        kind,
		description: res.Describe(),
		phantoms:    len(res.Phantoms),
		changed:     len(res.Changed),
	}
}

// lockKeys returns the invoice key followed by the extra keys of req,
// sorted and without duplicates, so that concurrent attempts lock in the
// same order.
func lockKeys(req domain.MutateRequest) []string {
	invoiceKey := LockKey(req.InvoiceID)
	extra := make([]string, 0, len(req.Locks))
	seen := map[string]struct{}{invoiceKey: {}}
	for _, key := range req.Locks {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		extra = append(extra, key)
	}
	sort.Strings(extra)
	return append([]string{invoiceKey}, extra...)
}

func (r *repo) begin(ctx context.Context) *gorm.DB {
	if r.db.Dialector.Name() == "sqlite" {
		return r.db.WithContext(ctx).Begin()
	}
	return r.db.WithContext(ctx).Begin(&sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

func (r *repo) persistenceError(invoiceID snowflake.ID, err error) error {
	r.log.Error("invoice persistence failed", zap.String("invoice_id", invoiceID.String()), zap.Error(err))
	return &domain.PersistenceError{InvoiceID: invoiceID, Err: err}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvoiceNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrLockTimeout), errors.Is(err, domain.ErrLockFailed):
		return metrics.OutcomeLockTimeout
	case errors.Is(err, domain.ErrPersistence):
		return metrics.OutcomePersistence
	case errors.Is(err, domain.ErrUnexpected):
		return metrics.OutcomeUnexpected
	default:
		return metrics.OutcomeRejected
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
