package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/invoice/domain"
	obsctx "github.com/smallbiznis/storefront/internal/observability/context"
	walletdomain "github.com/smallbiznis/storefront/internal/wallet/domain"
	"github.com/smallbiznis/storefront/pkg/changeset"
	"github.com/smallbiznis/storefront/pkg/reconcile"
)

// Delete policies per invoice collection. Items keep their rows when the
// in-memory list is empty; ledger rows are never updated or deleted.
var (
	ItemPolicy          = reconcile.GuardedDiff
	AttributePolicy     = reconcile.FullDiff
	PartialAttributes   = reconcile.Policy{Name: "attributes_not_loaded", Deletes: reconcile.NeverDelete}
	PaymentPolicy       = reconcile.Ledger
	WalletPaymentPolicy = reconcile.Ledger
)

// snapshot holds the child identities currently persisted for an invoice.
type snapshot struct {
	items     []snowflake.ID
	attrs     map[snowflake.ID][]snowflake.ID
	attrOrder []attrRow
	payments  []snowflake.ID
	wallet    []snowflake.ID
}

type attrRow struct {
	ID     snowflake.ID
	ItemID snowflake.ID
}

func loadSnapshot(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (snapshot, error) {
	snap := snapshot{attrs: map[snowflake.ID][]snowflake.ID{}}

	err := tx.WithContext(ctx).Table("invoice_items").
		Where("invoice_id = ? AND deleted_at IS NULL", invoiceID).
		Order("id ASC").
		Pluck("id", &snap.items).Error
	if err != nil {
		return snap, fmt.Errorf("snapshot items: %w", err)
	}

	err = tx.WithContext(ctx).Raw(
		`SELECT id, item_id FROM invoice_item_attributes
		 WHERE invoice_id = ? AND deleted_at IS NULL
		 ORDER BY id ASC`,
		invoiceID,
	).Scan(&snap.attrOrder).Error
	if err != nil {
		return snap, fmt.Errorf("snapshot attributes: %w", err)
	}
	for _, row := range snap.attrOrder {
		snap.attrs[row.ItemID] = append(snap.attrs[row.ItemID], row.ID)
	}

	err = tx.WithContext(ctx).Table("payment_transactions").
		Where("invoice_id = ? AND deleted_at IS NULL", invoiceID).
		Order("id ASC").
		Pluck("id", &snap.payments).Error
	if err != nil {
		return snap, fmt.Errorf("snapshot payments: %w", err)
	}

	err = tx.WithContext(ctx).Table("wallet_transactions").
		Where("invoice_id = ? AND deleted_at IS NULL", invoiceID).
		Order("id ASC").
		Pluck("id", &snap.wallet).Error
	if err != nil {
		return snap, fmt.Errorf("snapshot wallet transactions: %w", err)
	}
	return snap, nil
}

func itemKey(i *domain.Item) snowflake.ID { return i.ID }
func attrKey(a *domain.ItemAttribute) snowflake.ID { return a.ID }
func paymentKey(p *domain.PaymentTransaction) snowflake.ID { return p.ID }
func walletKey(w *walletdomain.Transaction) snowflake.ID { return w.ID }

// buildChangeset diffs the mutated invoice against snap and orders the writes
// so that children go before their parents on delete and after them on
// insert. The root update always runs last and carries the version check.
func buildChangeset(inv *domain.Invoice, snap snapshot, includeDetails bool, actor *snowflake.ID, now time.Time) *changeset.Set {
	set := changeset.New()
	scope := changeset.WithScope("invoice_id", inv.ID)

	items := reconcile.Diff(inv.Items, snap.items, itemKey, ItemPolicy)
	removed := make(map[snowflake.ID]struct{}, len(items.Deletes))
	for _, id := range items.Deletes {
		removed[id] = struct{}{}
	}

	var (
		attrDeletes []snowflake.ID
		attrUpdates []*domain.ItemAttribute
		attrInserts []*domain.ItemAttribute
	)
	for _, row := range snap.attrOrder {
		if _, gone := removed[row.ItemID]; gone {
			attrDeletes = append(attrDeletes, row.ID)
		}
	}
	policy := PartialAttributes
	if includeDetails {
		policy = AttributePolicy
	}
	for _, item := range items.Updates {
		plan := reconcile.Diff(item.Attributes, snap.attrs[item.ID], attrKey, policy)
		attrDeletes = append(attrDeletes, plan.Deletes...)
		attrUpdates = append(attrUpdates, plan.Updates...)
		attrInserts = append(attrInserts, plan.Inserts...)
	}
	for _, item := range items.Inserts {
		for _, attr := range item.Attributes {
			if attr != nil {
				attrInserts = append(attrInserts, attr)
			}
		}
	}

	for _, id := range attrDeletes {
		set.Delete(&domain.ItemAttribute{ID: id}, scope)
	}
	for _, id := range items.Deletes {
		set.Delete(&domain.Item{ID: id}, scope)
	}
	for _, item := range items.Updates {
		item.Stamp(actor, now)
		set.Update(item, scope)
	}
	for _, attr := range attrUpdates {
		attr.Stamp(actor, now)
		set.Update(attr, scope)
	}
	for _, item := range items.Inserts {
		item.Stamp(actor, now)
		set.Insert(item)
	}
	for _, attr := range attrInserts {
		attr.Stamp(actor, now)
		set.Insert(attr)
	}

	for _, p := range reconcile.Diff(inv.Payments, snap.payments, paymentKey, PaymentPolicy).Inserts {
		p.Stamp(actor, now)
		set.Insert(p)
	}
	for _, w := range reconcile.Diff(inv.WalletTransactions, snap.wallet, walletKey, WalletPaymentPolicy).Inserts {
		w.Stamp(actor, now)
		set.Insert(w)
	}

	inv.Stamp(actor, now)
	set.Update(inv, changeset.WithVersion("version", inv.Version))
	return set
}

func actorFrom(ctx context.Context) *snowflake.ID {
	return obsctx.ActorSnowflake(ctx)
}
