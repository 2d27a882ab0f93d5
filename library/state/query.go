package state

import (
	"iter"
)

// Predicate selects entities.
type Predicate func(e *Entity) bool

// Eq matches entities whose value of f serializes like v.
func Eq[T any](f *Field[T], v T) Predicate {
	want := f.codec.Format(v)
	return func(e *Entity) bool {
		return e.typ == f.typ && f.Serialize(e) == want
	}
}

// Match wraps an arbitrary test as a predicate.
func Match(fn func(e *Entity) bool) Predicate { return fn }

// Query is a lazy, conjunctive filter over one type's collection. Queries
// are immutable: Where returns a new query, so a query can be shared and
// re-run freely.
type Query struct {
	coll  *Collection
	preds []Predicate
}

// Where returns a query that additionally requires every predicate in preds.
func (q *Query) Where(preds ...Predicate) *Query {
	next := &Query{coll: q.coll, preds: make([]Predicate, 0, len(q.preds)+len(preds))}
	next.preds = append(next.preds, q.preds...)
	next.preds = append(next.preds, preds...)
	return next
}

// Results yields matching entities in id order. Each call re-evaluates the
// predicates against the live collection.
func (q *Query) Results() iter.Seq[*Entity] {
	return func(yield func(*Entity) bool) {
		for _, e := range q.coll.snapshot() {
			if !e.Valid() || !q.matches(e) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

func (q *Query) matches(e *Entity) bool {
	for _, p := range q.preds {
		if !p(e) {
			return false
		}
	}
	return true
}

// First returns the matching entity with the lowest id.
func (q *Query) First() (*Entity, bool) {
	for e := range q.Results() {
		return e, true
	}
	return nil, false
}

// Count returns the number of matches.
func (q *Query) Count() int {
	n := 0
	for range q.Results() {
		n++
	}
	return n
}

// All collects the matches.
func (q *Query) All() []*Entity {
	var out []*Entity
	for e := range q.Results() {
		out = append(out, e)
	}
	return out
}
