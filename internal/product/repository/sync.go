package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"

	obsctx "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/observability/tracing"
	"github.com/smallbiznis/storefront/internal/product/domain"
	"github.com/smallbiznis/storefront/pkg/changeset"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/reconcile"
)

const tracerName = "storefront/product"

// Every product collection is loaded whole, so absent rows are deleted.
var (
	StepPolicy             = reconcile.FullDiff
	FaqPolicy              = reconcile.FullDiff
	AttributePolicy        = reconcile.FullDiff
	VariantAttributePolicy = reconcile.FullDiff
	VariantPolicy          = reconcile.FullDiff
	OptionPolicy           = reconcile.FullDiff
)

// snapshot holds the child ids stored for a product. Options are grouped by
// the variant they belong to.
type snapshot struct {
	steps        []snowflake.ID
	faqs         []snowflake.ID
	attributes   []snowflake.ID
	variantAttrs []snowflake.ID
	variants     []snowflake.ID
	options      map[snowflake.ID][]snowflake.ID
}

func newSnapshot() *snapshot {
	return &snapshot{options: map[snowflake.ID][]snowflake.ID{}}
}

type optionRow struct {
	ID        snowflake.ID
	VariantID snowflake.ID
}

func loadSnapshot(ctx context.Context, tx *gorm.DB, productID snowflake.ID) (*snapshot, error) {
	snap := newSnapshot()
	for _, c := range []struct {
		table string
		into  *[]snowflake.ID
	}{
		{"product_execution_steps", &snap.steps},
		{"product_faqs", &snap.faqs},
		{"product_attributes", &snap.attributes},
		{"product_variant_attributes", &snap.variantAttrs},
		{"product_variants", &snap.variants},
	} {
		err := tx.WithContext(ctx).Table(c.table).
			Where("product_id = ? AND deleted_at IS NULL", productID).
			Order("id ASC").
			Pluck("id", c.into).Error
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", c.table, err)
		}
	}

	var rows []optionRow
	err := tx.WithContext(ctx).Raw(
		`SELECT id, variant_id FROM product_variant_options
		 WHERE product_id = ? AND deleted_at IS NULL
		 ORDER BY id ASC`,
		productID,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("snapshot variant options: %w", err)
	}
	for _, row := range rows {
		snap.options[row.VariantID] = append(snap.options[row.VariantID], row.ID)
	}
	return snap, nil
}

// Update saves p under its version and reconciles all five collections.
// Variants are diffed against the stored variants and the options of every
// surviving or new variant against the options stored for that variant id.
func (r *repo) Update(ctx context.Context, conn *gorm.DB, p *domain.Product) error {
	if p == nil || p.ID == 0 {
		return domain.ErrInvalidID
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "product.update",
		attribute.String("product.id", p.ID.String()),
		attribute.Int("product.variants", len(p.Variants)),
	)
	defer span.End()
	r.metrics.IncAttempt(metrics.AggregateProduct)

	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found int64
		err := tx.WithContext(ctx).Raw(
			`SELECT COUNT(*) FROM products WHERE id = ? AND deleted_at IS NULL`, p.ID,
		).Scan(&found).Error
		if err != nil {
			return fmt.Errorf("load product: %w", err)
		}
		if found == 0 {
			return domain.ErrNotFound
		}
		if err := r.ensureSlug(ctx, tx, p); err != nil {
			return err
		}

		snap, err := loadSnapshot(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := r.prepare(p, snap); err != nil {
			return err
		}

		now := r.clock.Now()
		actor := obsctx.ActorSnowflake(ctx)
		set := changeset.New()
		r.plan(set, p, snap, actor, now)
		p.Stamp(actor, now)
		set.Update(p, changeset.WithVersion("version", p.Version))

		if err := set.Apply(ctx, tx); err != nil {
			var cerr *changeset.ConflictError
			if !errors.As(err, &cerr) {
				return fmt.Errorf("save product: %w", err)
			}
			res, rerr := changeset.Resolve(ctx, tx, cerr)
			if rerr != nil {
				return fmt.Errorf("resolve product conflict: %w", rerr)
			}
			kind := metrics.ConflictKindChanged
			if res.Retryable() {
				kind = metrics.ConflictKindPhantom
			}
			r.metrics.IncConflict(metrics.AggregateProduct, kind)
			return &domain.ConflictError{ProductID: p.ID, Description: res.Describe()}
		}
		return nil
	})
	if db.IsDuplicateKeyErr(err) {
		err = domain.ErrDuplicateSlug
	}
	if err != nil {
		r.metrics.IncOutcome(metrics.AggregateProduct, outcomeOf(err))
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "product update failed")
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			r.log.Warn("product concurrency conflict", zap.String("product_id", p.ID.String()), zap.Error(err))
		}
		return err
	}
	r.metrics.IncOutcome(metrics.AggregateProduct, metrics.OutcomeCommitted)
	p.Version++
	return nil
}

// prepare gives every child an id and a parent. Children whose id is not
// stored under their parent get a fresh id, so an option can only update a
// row of its own variant. Options are resolved to a variant attribute of p.
func (r *repo) prepare(p *domain.Product, snap *snapshot) error {
	for _, s := range p.ExecutionSteps {
		if s == nil {
			continue
		}
		s.ID = r.claim(s.ID, snap.steps)
		s.ProductID = p.ID
	}
	for _, f := range p.Faqs {
		if f == nil {
			continue
		}
		f.ID = r.claim(f.ID, snap.faqs)
		f.ProductID = p.ID
	}
	for _, a := range p.Attributes {
		if a == nil {
			continue
		}
		a.ID = r.claim(a.ID, snap.attributes)
		a.ProductID = p.ID
	}
	for _, a := range p.VariantAttributes {
		if a == nil {
			continue
		}
		a.ID = r.claim(a.ID, snap.variantAttrs)
		a.ProductID = p.ID
	}

	for _, v := range p.Variants {
		if v == nil {
			continue
		}
		v.ID = r.claim(v.ID, snap.variants)
		v.ProductID = p.ID

		seen := make(map[snowflake.ID]struct{}, len(v.Options))
		for _, o := range v.Options {
			if o == nil {
				continue
			}
			attr := p.FindVariantAttribute(o.VariantAttributeID, o.Attribute)
			if attr == nil {
				return fmt.Errorf("%w: variant %s references unknown attribute %q",
					domain.ErrInvalidVariantOption, v.ID, o.Attribute)
			}
			if _, dup := seen[attr.ID]; dup {
				return fmt.Errorf("%w: variant %s sets %q twice",
					domain.ErrInvalidVariantOption, v.ID, attr.Name)
			}
			seen[attr.ID] = struct{}{}

			o.ID = r.claim(o.ID, snap.options[v.ID])
			o.VariantAttributeID = attr.ID
			o.VariantID = v.ID
			o.ProductID = p.ID
			o.Attribute = attr.Name
		}
	}
	return nil
}

// claim keeps id when it is stored and returns a new id otherwise.
func (r *repo) claim(id snowflake.ID, stored []snowflake.ID) snowflake.ID {
	if id != 0 {
		for _, s := range stored {
			if s == id {
				return id
			}
		}
	}
	return r.genID.Generate()
}

// plan adds the child writes of p to set. Deletes run children first and
// inserts parents first, so options are removed before their variants and
// attributes and inserted after them.
func (r *repo) plan(set *changeset.Set, p *domain.Product, snap *snapshot, actor *snowflake.ID, now time.Time) {
	scope := changeset.WithScope("product_id", p.ID)

	steps := reconcile.Diff(p.ExecutionSteps, snap.steps, func(s *domain.ExecutionStep) snowflake.ID { return s.ID }, StepPolicy)
	faqs := reconcile.Diff(p.Faqs, snap.faqs, func(f *domain.Faq) snowflake.ID { return f.ID }, FaqPolicy)
	attrs := reconcile.Diff(p.Attributes, snap.attributes, func(a *domain.Attribute) snowflake.ID { return a.ID }, AttributePolicy)
	vattrs := reconcile.Diff(p.VariantAttributes, snap.variantAttrs, func(a *domain.VariantAttribute) snowflake.ID { return a.ID }, VariantAttributePolicy)
	variants := reconcile.Diff(p.Variants, snap.variants, func(v *domain.Variant) snowflake.ID { return v.ID }, VariantPolicy)

	var (
		optionDeletes []snowflake.ID
		optionUpdates []*domain.VariantOption
		optionInserts []*domain.VariantOption
	)
	for _, id := range variants.Deletes {
		optionDeletes = append(optionDeletes, snap.options[id]...)
	}
	for _, v := range variants.Updates {
		plan := reconcile.Diff(v.Options, snap.options[v.ID], func(o *domain.VariantOption) snowflake.ID { return o.ID }, OptionPolicy)
		optionDeletes = append(optionDeletes, plan.Deletes...)
		optionUpdates = append(optionUpdates, plan.Updates...)
		optionInserts = append(optionInserts, plan.Inserts...)
	}
	for _, v := range variants.Inserts {
		for _, o := range v.Options {
			if o != nil {
				optionInserts = append(optionInserts, o)
			}
		}
	}

	for _, id := range optionDeletes {
		set.Delete(&domain.VariantOption{ID: id}, scope)
	}
	for _, id := range variants.Deletes {
		set.Delete(&domain.Variant{ID: id}, scope)
	}
	for _, id := range vattrs.Deletes {
		set.Delete(&domain.VariantAttribute{ID: id}, scope)
	}
	for _, id := range steps.Deletes {
		set.Delete(&domain.ExecutionStep{ID: id}, scope)
	}
	for _, id := range faqs.Deletes {
		set.Delete(&domain.Faq{ID: id}, scope)
	}
	for _, id := range attrs.Deletes {
		set.Delete(&domain.Attribute{ID: id}, scope)
	}

	for _, a := range vattrs.Updates {
		a.Stamp(actor, now)
		set.Update(a, scope)
	}
	for _, v := range variants.Updates {
		v.Stamp(actor, now)
		set.Update(v, scope)
	}
	for _, o := range optionUpdates {
		o.Stamp(actor, now)
		set.Update(o, scope)
	}
	for _, s := range steps.Updates {
		s.Stamp(actor, now)
		set.Update(s, scope)
	}
	for _, f := range faqs.Updates {
		f.Stamp(actor, now)
		set.Update(f, scope)
	}
	for _, a := range attrs.Updates {
		a.Stamp(actor, now)
		set.Update(a, scope)
	}

	for _, a := range vattrs.Inserts {
		a.Stamp(actor, now)
		set.Insert(a)
	}
	for _, v := range variants.Inserts {
		v.Stamp(actor, now)
		set.Insert(v)
	}
	for _, o := range optionInserts {
		o.Stamp(actor, now)
		set.Insert(o)
	}
	for _, s := range steps.Inserts {
		s.Stamp(actor, now)
		set.Insert(s)
	}
	for _, f := range faqs.Inserts {
		f.Stamp(actor, now)
		set.Insert(f)
	}
	for _, a := range attrs.Inserts {
		a.Stamp(actor, now)
		set.Insert(a)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, domain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrDuplicateSlug),
		errors.Is(err, domain.ErrInvalidVariantOption),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidID):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomePersistence
	}
}
