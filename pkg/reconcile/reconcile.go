// Package reconcile diffs the desired state of a child collection, held in
// memory, against the identities currently persisted for its parent.
package reconcile

// DeletePolicy decides what happens to persisted children that are absent
// from the desired collection.
type DeletePolicy int

const (
	// DeleteAbsent removes every persisted child missing from the desired set,
	// including all of them when the desired set is empty.
	DeleteAbsent DeletePolicy = iota
	// KeepWhenEmpty behaves like DeleteAbsent unless the desired set is empty,
	// in which case nothing is deleted. An empty collection is read as "not
	// loaded" rather than "remove everything".
	KeepWhenEmpty
	// NeverDelete never removes persisted children.
	NeverDelete
)

func (p DeletePolicy) String() string {
	switch p {
	case DeleteAbsent:
		return "delete_absent"
	case KeepWhenEmpty:
		return "keep_when_empty"
	case NeverDelete:
		return "never_delete"
	default:
		return "unknown"
	}
}

// Policy is the named reconciliation rule for one child collection.
type Policy struct {
	Name    string
	Deletes DeletePolicy
	// AppendOnly children are immutable once persisted: existing rows are
	// neither updated nor deleted.
	AppendOnly bool
}

var (
	// FullDiff inserts, updates and deletes.
	FullDiff = Policy{Name: "full_diff", Deletes: DeleteAbsent}
	// GuardedDiff is FullDiff that refuses to mass-delete on empty input.
	GuardedDiff = Policy{Name: "guarded_diff", Deletes: KeepWhenEmpty}
	// Ledger only recognizes new rows.
	Ledger = Policy{Name: "ledger", Deletes: NeverDelete, AppendOnly: true}
)

// Plan is the classified outcome of a diff.
type Plan[C any, K comparable] struct {
	Inserts []*C
	Updates []*C
	Deletes []K
}

func (p Plan[C, K]) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// Diff classifies desired children against the existing persisted keys.
//
// A child is new when its key is the zero value or is not in existing.
// Desired children sharing a non-zero key collapse to the first occurrence.
// Existing keys are returned as deletes according to p.Deletes; the order of
// the returned slices follows the order of the inputs.
func Diff[C any, K comparable](desired []*C, existing []K, key func(*C) K, p Policy) Plan[C, K] {
	var zero K
	persisted := make(map[K]struct{}, len(existing))
	for _, k := range existing {
		persisted[k] = struct{}{}
	}

	var plan Plan[C, K]
	kept := make(map[K]struct{}, len(desired))
	for _, child := range desired {
		if child == nil {
			continue
		}
		k := key(child)
		if k != zero {
			if _, dup := kept[k]; dup {
				continue
			}
			kept[k] = struct{}{}
		}
		if _, ok := persisted[k]; ok && k != zero {
			if !p.AppendOnly {
				plan.Updates = append(plan.Updates, child)
			}
			continue
		}
		plan.Inserts = append(plan.Inserts, child)
	}

	if p.AppendOnly || p.Deletes == NeverDelete {
		return plan
	}
	if p.Deletes == KeepWhenEmpty && len(desired) == 0 {
		return plan
	}
	for _, k := range existing {
		if _, ok := kept[k]; !ok {
			plan.Deletes = append(plan.Deletes, k)
			kept[k] = struct{}{}
		}
	}
	return plan
}

// Keys collects the keys of items.
func Keys[C any, K comparable](items []*C, key func(*C) K) []K {
	out := make([]K, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, key(item))
	}
	return out
}
