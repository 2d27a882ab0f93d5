package state

import (
	"fmt"
	"strings"
)

// Key is a uniqueness constraint spanning one or more fields of a type. A
// tuple containing a null (empty) value never collides, mirroring SQL
// unique indexes over nullable columns.
type Key struct {
	typ    *Type
	fields []AnyField
}

// NewKey declares a composite key on t over fields.
func NewKey(t *Type, fields ...AnyField) *Key {
	if len(fields) == 0 {
		panic("state: key without fields")
	}
	k := &Key{typ: t, fields: fields}
	for _, f := range fields {
		if f.owner() != t {
			panic(fmt.Sprintf("state: key on %s uses foreign field %s", t.name, f.Name()))
		}
		f.attach(k)
	}
	t.keys = append(t.keys, k)
	return k
}

func (k *Key) Fields() []AnyField { return k.fields }

func (k *Key) String() string {
	names := make([]string, len(k.fields))
	for i, f := range k.fields {
		names[i] = f.Name()
	}
	return k.typ.name + "{" + strings.Join(names, ",") + "}"
}

// checkWrite reports a violation when writing candidate into field on e
// would duplicate the key tuple of another entity. The caller holds the
// collection's write lock.
func (k *Key) checkWrite(e *Entity, field, candidate string) error {
	tuple := make([]string, len(k.fields))
	for i, f := range k.fields {
		if f.Name() == field {
			tuple[i] = candidate
		} else {
			tuple[i] = e.serialized(f.Name())
		}
	}
	return k.check(e.coll, e, tuple)
}

// checkValues is used on insert, before the entity joins the collection.
func (k *Key) checkValues(c *Collection, vals Values) error {
	tuple := make([]string, len(k.fields))
	for i, f := range k.fields {
		tuple[i] = f.encode(vals[f.Name()])
	}
	return k.check(c, nil, tuple)
}

func (k *Key) check(c *Collection, self *Entity, tuple []string) error {
	for _, v := range tuple {
		if v == "" {
			return nil
		}
	}
	for _, other := range c.items {
		if other == self {
			continue
		}
		if k.matches(other, tuple) {
			return fmt.Errorf("%w: %s = (%s) already used by %s %d",
				ErrConstraintViolation, k, strings.Join(tuple, ","), k.typ.name, other.id)
		}
	}
	return nil
}

func (k *Key) matches(e *Entity, tuple []string) bool {
	for i, f := range k.fields {
		if e.serialized(f.Name()) != tuple[i] {
			return false
		}
	}
	return true
}
