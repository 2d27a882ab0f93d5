package state

import (
	"fmt"
	"sort"
	"sync"
)

// Collection owns every loaded entity of one type.
type Collection struct {
	typ *Type

	mu     sync.RWMutex
	items  []*Entity
	byID   map[int64]*Entity
	nextID int64
}

func newCollection(t *Type) *Collection {
	return &Collection{typ: t, byID: map[int64]*Entity{}, nextID: 1}
}

// insert checks the type's keys, assigns the next id to fresh entities and
// indexes e.
func (c *Collection) insert(b *Builder) (*Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := b.build()
	for _, k := range c.typ.keys {
		if err := k.checkValues(c, e.values); err != nil {
			return nil, err
		}
	}

	if e.id == 0 {
		e.id = c.nextID
	} else if _, dup := c.byID[e.id]; dup {
		return nil, fmt.Errorf("%w: %s id %d already loaded", ErrConstraintViolation, c.typ.name, e.id)
	}
	if e.id >= c.nextID {
		c.nextID = e.id + 1
	}

	e.coll = c
	c.byID[e.id] = e
	c.items = append(c.items, e)
	if n := len(c.items); n > 1 && c.items[n-2].id > e.id {
		sort.Slice(c.items, func(i, j int) bool { return c.items[i].id < c.items[j].id })
	}
	return e, nil
}

func (c *Collection) get(id int64) (*Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	return e, ok
}

// snapshot returns the current entities in id order.
func (c *Collection) snapshot() []*Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entity, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Collection) records() []Record {
	items := c.snapshot()
	out := make([]Record, 0, len(items))
	for _, e := range items {
		if e.Valid() {
			out = append(out, e.Record())
		}
	}
	return out
}

func (c *Collection) unload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.items {
		e.unload()
	}
	c.items = nil
	c.byID = map[int64]*Entity{}
}
