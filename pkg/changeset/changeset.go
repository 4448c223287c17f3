// Package changeset applies an ordered write plan for a detached aggregate
// and classifies optimistic concurrency conflicts.
//
// Entities are gorm models. Updates are issued column by column from the
// model schema rather than through gorm's Save, so a detached value can be
// written with an explicit version or token predicate.
package changeset

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

var ErrConflict = errors.New("concurrency_conflict")

// Columns never rewritten by an update.
var immutableColumns = map[string]struct{}{
	"created_at": {},
	"creator_id": {},
	"deleted_at": {},
}

type predicate struct {
	column string
	value  any
}

// Entry is one pending write.
type Entry struct {
	Op     Op
	Entity any

	check    *predicate
	bump     bool
	scope    []predicate
	soft     bool
	detached bool

	sch *schema.Schema
	key any
}

// Option configures an Entry.
type Option func(*Entry)

// WithVersion guards an update with column = current and increments the
// column by one in the same statement.
func WithVersion(column string, current any) Option {
	return func(e *Entry) {
		e.check = &predicate{column: column, value: current}
		e.bump = true
	}
}

// WithToken guards an update or delete with column = current. The column is
// written with the entity's value like any other column.
func WithToken(column string, current any) Option {
	return func(e *Entry) {
		e.check = &predicate{column: column, value: current}
	}
}

// WithScope restricts the statement to rows where column = value, typically
// the owning parent id.
func WithScope(column string, value any) Option {
	return func(e *Entry) {
		e.scope = append(e.scope, predicate{column: column, value: value})
	}
}

// Soft makes a delete set deleted_at instead of removing the row.
func Soft() Option {
	return func(e *Entry) {
		e.soft = true
	}
}

// Table returns the table name once the entry has been applied or resolved.
func (e *Entry) Table() string {
	if e.sch != nil {
		return e.sch.Table
	}
	if e.Entity == nil {
		return ""
	}
	return reflect.Indirect(reflect.ValueOf(e.Entity)).Type().Name()
}

// Key returns the primary key value once the entry has been prepared.
func (e *Entry) Key() any {
	return e.key
}

func (e *Entry) Detached() bool {
	return e.detached
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s %s#%v", e.Op, e.Table(), e.key)
}

// Set is an ordered list of entries. Entries run in insertion order.
type Set struct {
	entries []*Entry
}

func New() *Set {
	return &Set{}
}

func (s *Set) add(op Op, entity any, opts []Option) *Entry {
	e := &Entry{Op: op, Entity: entity}
	for _, opt := range opts {
		opt(e)
	}
	s.entries = append(s.entries, e)
	return e
}

func (s *Set) Insert(entity any, opts ...Option) *Entry {
	return s.add(OpInsert, entity, opts)
}

func (s *Set) Update(entity any, opts ...Option) *Entry {
	return s.add(OpUpdate, entity, opts)
}

func (s *Set) Delete(entity any, opts ...Option) *Entry {
	return s.add(OpDelete, entity, opts)
}

// Detach excludes entries from subsequent applies.
func (s *Set) Detach(entries ...*Entry) {
	for _, e := range entries {
		if e != nil {
			e.detached = true
		}
	}
}

// Pending returns the entries that are not detached.
func (s *Set) Pending() []*Entry {
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.detached {
			out = append(out, e)
		}
	}
	return out
}

// Counts reports pending entries per operation.
func (s *Set) Counts() map[Op]int {
	counts := map[Op]int{}
	for _, e := range s.Pending() {
		counts[e.Op]++
	}
	return counts
}

func (s *Set) Len() int {
	return len(s.entries)
}

// ConflictError reports update or delete entries that matched no row.
type ConflictError struct {
	Entries []*Entry
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Entries))
	for _, entry := range e.Entries {
		parts = append(parts, entry.String())
	}
	return fmt.Sprintf("concurrency conflict on %s", strings.Join(parts, ", "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Apply executes pending entries in order on tx.
//
// Once a conflict is seen, remaining inserts are skipped while remaining
// updates and deletes still run so that every stale row is reported in one
// pass. The caller is expected to roll back on any returned error.
func (s *Set) Apply(ctx context.Context, tx *gorm.DB) error {
	var conflicts []*Entry
	for _, e := range s.entries {
		if e.detached {
			continue
		}
		if err := e.prepare(ctx, tx); err != nil {
			return err
		}
		if len(conflicts) > 0 && e.Op == OpInsert {
			continue
		}

		affected, err := e.exec(ctx, tx)
		if err != nil {
			return fmt.Errorf("%s %s: %w", e.Op, e.Table(), err)
		}
		if e.Op != OpInsert && affected == 0 {
			conflicts = append(conflicts, e)
		}
	}
	if len(conflicts) > 0 {
		return &ConflictError{Entries: conflicts}
	}
	return nil
}

func (e *Entry) prepare(ctx context.Context, tx *gorm.DB) error {
	if e.sch != nil {
		return nil
	}
	if e.Entity == nil {
		return errors.New("changeset entry has no entity")
	}
	stmt := &gorm.Statement{DB: tx}
	if err := stmt.Parse(e.Entity); err != nil {
		return fmt.Errorf("parse %T: %w", e.Entity, err)
	}
	if stmt.Schema.PrioritizedPrimaryField == nil {
		return fmt.Errorf("%s has no primary key", stmt.Schema.Table)
	}
	e.sch = stmt.Schema
	e.key, _ = e.sch.PrioritizedPrimaryField.ValueOf(ctx, reflect.Indirect(reflect.ValueOf(e.Entity)))
	return nil
}

func (e *Entry) exec(ctx context.Context, tx *gorm.DB) (int64, error) {
	pk := e.sch.PrioritizedPrimaryField
	switch e.Op {
	case OpInsert:
		res := tx.WithContext(ctx).Omit(clause.Associations).Create(e.Entity)
		return res.RowsAffected, res.Error

	case OpUpdate:
		values := UpdatableValues(ctx, e.sch, e.Entity)
		q := tx.WithContext(ctx).Table(e.sch.Table).Where(clause.Eq{Column: clause.Column{Name: pk.DBName}, Value: e.key})
		q = e.where(q)
		if e.check != nil && e.bump {
			delete(values, e.check.column)
			values[e.check.column] = gorm.Expr(e.check.column + " + 1")
		}
		res := q.UpdateColumns(values)
		return res.RowsAffected, res.Error

	case OpDelete:
		if isZero(e.key) {
			return 0, fmt.Errorf("refusing to delete %s without a primary key", e.sch.Table)
		}
		q := tx.WithContext(ctx)
		if !e.soft {
			q = q.Unscoped()
		}
		q = e.where(q)
		res := q.Delete(e.Entity)
		return res.RowsAffected, res.Error

	default:
		return 0, fmt.Errorf("unsupported op %d", e.Op)
	}
}

func (e *Entry) where(q *gorm.DB) *gorm.DB {
	if e.check != nil {
		q = q.Where(clause.Eq{Column: clause.Column{Name: e.check.column}, Value: e.check.value})
	}
	for _, p := range e.scope {
		q = q.Where(clause.Eq{Column: clause.Column{Name: p.column}, Value: p.value})
	}
	return q
}

// UpdatableValues returns every writable column of entity except the primary
// key and the immutable audit columns.
func UpdatableValues(ctx context.Context, sch *schema.Schema, entity any) map[string]any {
	rv := reflect.Indirect(reflect.ValueOf(entity))
	values := make(map[string]any, len(sch.DBNames))
	for _, name := range sch.DBNames {
		field := sch.FieldsByDBName[name]
		if field == nil || field.PrimaryKey || !field.Updatable {
			continue
		}
		if _, skip := immutableColumns[name]; skip {
			continue
		}
		value, _ := field.ValueOf(ctx, rv)
		values[name] = value
	}
	return values
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.IsZero()
}
