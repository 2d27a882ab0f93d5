// Package state holds the in-memory entity graph: typed fields declared per
// entity type, composite keys, builders, per-type collections with lazy
// queries, and the Store facade that loads and persists everything through a
// pluggable Backend.
package state

import (
	"fmt"
	"strconv"
	"sync"
)

// Record is the persisted form of one entity: "id" plus every declared
// field name mapped to its serialized value.
type Record map[string]string

// Snapshot maps a type name to the records of every entity of that type.
type Snapshot map[string][]Record

// Schema lists the persisted columns of a type in declaration order.
type Schema struct {
	Name    string
	Columns []string
}

// Values is a read-only view of field values used by type invariants.
type Values map[string]any

// Lookup reads the value of f from vals, or the zero value when unset.
func Lookup[T any](vals Values, f *Field[T]) T {
	if v, ok := vals[f.name].(T); ok {
		return v
	}
	var zero T
	return zero
}

// Type declares an entity type: its name, ordered fields, composite keys and
// invariants. Types are declared once at package init.
type Type struct {
	name       string
	fields     []AnyField
	byName     map[string]AnyField
	keys       []*Key
	invariants []func(Values) error
}

// NewType declares a new entity type.
func NewType(name string) *Type {
	return &Type{name: name, byName: map[string]AnyField{}}
}

func (t *Type) Name() string       { return t.name }
func (t *Type) Fields() []AnyField { return t.fields }
func (t *Type) Keys() []*Key       { return t.keys }

// Invariant registers a check run against the candidate values of every
// write and every build.
func (t *Type) Invariant(fn func(Values) error) {
	t.invariants = append(t.invariants, fn)
}

// Schema returns the persisted column layout of the type.
func (t *Type) Schema() Schema {
	cols := make([]string, len(t.fields))
	for i, f := range t.fields {
		cols[i] = f.Name()
	}
	return Schema{Name: t.name, Columns: cols}
}

func (t *Type) register(f AnyField) {
	if _, dup := t.byName[f.Name()]; dup {
		panic(fmt.Sprintf("state: field %s.%s declared twice", t.name, f.Name()))
	}
	t.fields = append(t.fields, f)
	t.byName[f.Name()] = f
}

func (t *Type) checkInvariants(vals Values) error {
	for _, inv := range t.invariants {
		if err := inv(vals); err != nil {
			return err
		}
	}
	return nil
}

// Entity is one uniquely identified domain record. Field values are read and
// written through the Field declared on its Type.
type Entity struct {
	typ  *Type
	id   int64
	coll *Collection

	mu     sync.RWMutex
	values Values
	valid  bool
}

func (e *Entity) ID() int64   { return e.id }
func (e *Entity) Type() *Type { return e.typ }

// Valid reports whether the entity is still loaded.
func (e *Entity) Valid() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.valid
}

// Record serializes the entity.
func (e *Entity) Record() Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r := make(Record, len(e.typ.fields)+1)
	r["id"] = strconv.FormatInt(e.id, 10)
	for _, f := range e.typ.fields {
		r[f.Name()] = f.encode(e.values[f.Name()])
	}
	return r
}

func (e *Entity) serialized(name string) string {
	f := e.typ.byName[name]
	e.mu.RLock()
	defer e.mu.RUnlock()
	return f.encode(e.values[name])
}

// unload detaches every field value and marks e invalid.
func (e *Entity) unload() {
	for _, f := range e.typ.fields {
		f.Forget(e)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.valid = false
}
