package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type child struct {
	ID   int64
	Name string
}

func childKey(c *child) int64 { return c.ID }

func names(items []*child) []string {
	out := make([]string, 0, len(items))
	for _, c := range items {
		out = append(out, c.Name)
	}
	return out
}

func TestDiff_InsertUpdateDelete(t *testing.T) {
	desired := []*child{{ID: 1, Name: "A'"}, {ID: 0, Name: "C"}}
	plan := Diff(desired, []int64{1, 2}, childKey, FullDiff)

	assert.Equal(t, []string{"C"}, names(plan.Inserts))
	assert.Equal(t, []string{"A'"}, names(plan.Updates))
	assert.Equal(t, []int64{2}, plan.Deletes)
}

func TestDiff_UnknownNonZeroKeyIsNew(t *testing.T) {
	plan := Diff([]*child{{ID: 9, Name: "X"}}, []int64{1}, childKey, FullDiff)

	assert.Equal(t, []string{"X"}, names(plan.Inserts))
	assert.Empty(t, plan.Updates)
	assert.Equal(t, []int64{1}, plan.Deletes)
}

func TestDiff_EmptyDesiredByPolicy(t *testing.T) {
	existing := []int64{1, 2}

	full := Diff[child, int64](nil, existing, childKey, FullDiff)
	assert.Equal(t, []int64{1, 2}, full.Deletes)

	guarded := Diff[child, int64](nil, existing, childKey, GuardedDiff)
	assert.True(t, guarded.Empty())

	never := Diff([]*child{{ID: 1}}, existing, childKey, Policy{Name: "keep", Deletes: NeverDelete})
	assert.Empty(t, never.Deletes)
	assert.Len(t, never.Updates, 1)
}

func TestDiff_GuardedStillDeletesAbsentWhenNonEmpty(t *testing.T) {
	plan := Diff([]*child{{ID: 1}}, []int64{1, 2}, childKey, GuardedDiff)
	assert.Equal(t, []int64{2}, plan.Deletes)
}

func TestDiff_LedgerOnlyInserts(t *testing.T) {
	desired := []*child{{ID: 1, Name: "old"}, {ID: 0, Name: "new"}}
	plan := Diff(desired, []int64{1, 5}, childKey, Ledger)

	assert.Equal(t, []string{"new"}, names(plan.Inserts))
	assert.Empty(t, plan.Updates)
	assert.Empty(t, plan.Deletes)
}

func TestDiff_DuplicatesCollapse(t *testing.T) {
	desired := []*child{{ID: 1, Name: "first"}, {ID: 1, Name: "second"}, nil, {ID: 0, Name: "n1"}, {ID: 0, Name: "n2"}}
	plan := Diff(desired, []int64{1}, childKey, FullDiff)

	assert.Equal(t, []string{"first"}, names(plan.Updates))
	assert.Equal(t, []string{"n1", "n2"}, names(plan.Inserts))
	assert.Empty(t, plan.Deletes)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []int64{3, 4}, Keys([]*child{{ID: 3}, nil, {ID: 4}}, childKey))
}
