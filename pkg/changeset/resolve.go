package changeset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FieldDiff is one column whose in-memory value differs from the stored one.
type FieldDiff struct {
	Column   string
	Memory   any
	Database any
}

// Changed is a conflicting entry whose row still exists.
type Changed struct {
	Entry  *Entry
	Fields []FieldDiff
}

// Resolution classifies the entries of a ConflictError.
type Resolution struct {
	// Phantoms no longer exist in the database (deleted or soft-deleted).
	Phantoms []*Entry
	// Changed exist but were modified concurrently.
	Changed []Changed
}

// Retryable reports whether every conflicting entry was a phantom.
func (r Resolution) Retryable() bool {
	return len(r.Changed) == 0
}

// Describe renders the field differences for display.
func (r Resolution) Describe() string {
	if len(r.Changed) == 0 {
		if len(r.Phantoms) == 0 {
			return ""
		}
		parts := make([]string, 0, len(r.Phantoms))
		for _, e := range r.Phantoms {
			parts = append(parts, fmt.Sprintf("%s#%v no longer exists", e.Table(), e.Key()))
		}
		return strings.Join(parts, "; ")
	}

	parts := make([]string, 0, len(r.Changed))
	for _, c := range r.Changed {
		if len(c.Fields) == 0 {
			parts = append(parts, fmt.Sprintf("%s#%v was modified concurrently", c.Entry.Table(), c.Entry.Key()))
			continue
		}
		fields := make([]string, 0, len(c.Fields))
		for _, f := range c.Fields {
			fields = append(fields, fmt.Sprintf("%s (memory=%s, database=%s)", f.Column, formatValue(f.Memory), formatValue(f.Database)))
		}
		parts = append(parts, fmt.Sprintf("%s#%v: %s", c.Entry.Table(), c.Entry.Key(), strings.Join(fields, ", ")))
	}
	return strings.Join(parts, "; ")
}

// Resolve reloads each conflicting entry inside tx and classifies it.
func Resolve(ctx context.Context, tx *gorm.DB, conflict *ConflictError) (Resolution, error) {
	var res Resolution
	if conflict == nil {
		return res, nil
	}

	for _, e := range conflict.Entries {
		if err := e.prepare(ctx, tx); err != nil {
			return res, err
		}

		current := reflect.New(e.sch.ModelType).Interface()
		pk := e.sch.PrioritizedPrimaryField
		err := tx.WithContext(ctx).
			Unscoped().
			Where(clause.Eq{Column: clause.Column{Table: e.sch.Table, Name: pk.DBName}, Value: e.key}).
			Take(current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			res.Phantoms = append(res.Phantoms, e)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("reload %s#%v: %w", e.sch.Table, e.key, err)
		}
		if softDeleted(ctx, e, current) {
			res.Phantoms = append(res.Phantoms, e)
			continue
		}
		// the row exists but failed the version, token or scope predicate
		res.Changed = append(res.Changed, Changed{Entry: e, Fields: diffFields(ctx, e, current)})
	}
	return res, nil
}

func softDeleted(ctx context.Context, e *Entry, current any) bool {
	field := e.sch.FieldsByDBName["deleted_at"]
	if field == nil {
		return false
	}
	value, zero := field.ValueOf(ctx, reflect.Indirect(reflect.ValueOf(current)))
	if zero {
		return false
	}
	switch v := value.(type) {
	case gorm.DeletedAt:
		return v.Valid
	case *time.Time:
		return v != nil
	case time.Time:
		return !v.IsZero()
	default:
		return false
	}
}

// diffFields compares every readable column, including the version and token
// columns that are excluded from writes.
func diffFields(ctx context.Context, e *Entry, current any) []FieldDiff {
	memory := reflect.Indirect(reflect.ValueOf(e.Entity))
	stored := reflect.Indirect(reflect.ValueOf(current))

	var diffs []FieldDiff
	for _, name := range e.sch.DBNames {
		field := e.sch.FieldsByDBName[name]
		if field == nil || field.PrimaryKey || !field.Readable {
			continue
		}
		mv, _ := field.ValueOf(ctx, memory)
		dv, _ := field.ValueOf(ctx, stored)
		if valuesEqual(mv, dv) {
			continue
		}
		diffs = append(diffs, FieldDiff{Column: name, Memory: mv, Database: dv})
	}
	sort.SliceStable(diffs, func(i, j int) bool {
		return columnRank(diffs[i].Column) < columnRank(diffs[j].Column)
	})
	return diffs
}

// columnRank lists business columns before bookkeeping columns.
func columnRank(column string) int {
	switch column {
	case "version", "updated_at", "updater_id", "deleted_at", "created_at", "creator_id":
		return 1
	default:
		return 0
	}
}

func valuesEqual(a, b any) bool {
	a, b = deref(a), deref(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Truncate(time.Microsecond).Equal(bv.Truncate(time.Microsecond))
	case gorm.DeletedAt:
		bv, ok := b.(gorm.DeletedAt)
		if !ok || av.Valid != bv.Valid {
			return false
		}
		return !av.Valid || av.Time.Truncate(time.Microsecond).Equal(bv.Time.Truncate(time.Microsecond))
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	}

	switch reflect.ValueOf(a).Kind() {
	case reflect.Map, reflect.Slice:
		ab, errA := json.Marshal(a)
		bb, errB := json.Marshal(b)
		if errA == nil && errB == nil {
			return string(ab) == string(bb)
		}
	}
	return reflect.DeepEqual(a, b)
}

func deref(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func formatValue(v any) string {
	v = deref(v)
	switch tv := v.(type) {
	case nil:
		return "<nil>"
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	case gorm.DeletedAt:
		if !tv.Valid {
			return "<nil>"
		}
		return tv.Time.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return tv.String()
	case fmt.Stringer:
		return tv.String()
	default:
		return fmt.Sprintf("%v", tv)
	}
}
