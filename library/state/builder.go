package state

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Builder collects field values for a new entity. A builder is owned by the
// code constructing it and is consumed by Store.Insert.
type Builder struct {
	typ    *Type
	id     int64
	values Values
	err    error
}

// NewBuilder starts an entity of type t that will receive the next
// sequential id on insert.
func NewBuilder(t *Type) *Builder {
	return &Builder{typ: t, values: Values{}}
}

// Put stores v for f on b.
func Put[T any](b *Builder, f *Field[T], v T) *Builder {
	if f.typ != b.typ {
		b.err = errors.Join(b.err, fmt.Errorf("put %s on %s builder: %w", f, b.typ.name, ErrWrongType))
		return b
	}
	b.values[f.name] = v
	return b
}

// BuilderFromRecord decodes a persisted record, keeping the id it was stored
// with. Decode failures surface from Valid.
func BuilderFromRecord(t *Type, r Record) *Builder {
	b := NewBuilder(t)
	rawID, ok := r["id"]
	if !ok {
		b.err = fmt.Errorf("%s record: %w: id", t.name, ErrMissingField)
		return b
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		b.err = fmt.Errorf("%s record: invalid id %q", t.name, rawID)
		return b
	}
	b.id = id
	b.decode(r)
	return b
}

// BuilderFromFields decodes a flat record that carries no id, such as a row
// of an import file. The entity gets the next id on insert.
func BuilderFromFields(t *Type, r Record) *Builder {
	b := NewBuilder(t)
	b.decode(r)
	return b
}

func (b *Builder) decode(r Record) {
	for _, f := range b.typ.fields {
		raw, ok := r[f.Name()]
		if !ok {
			if f.Required() {
				b.err = errors.Join(b.err, fmt.Errorf("%s record %d: %w: %s", b.typ.name, b.id, ErrMissingField, f.Name()))
			}
			continue
		}
		v, err := f.decode(raw)
		if err != nil {
			b.err = errors.Join(b.err, err)
			continue
		}
		b.values[f.Name()] = v
	}
}

func (b *Builder) Type() *Type { return b.typ }

// ID returns the persisted id, or 0 for a fresh builder.
func (b *Builder) ID() int64 { return b.id }

// Valid reports whether the builder can produce an entity: every required
// field is present, every field check passes and every type invariant holds.
func (b *Builder) Valid() error {
	if b.err != nil {
		return b.err
	}
	var missing []string
	for _, f := range b.typ.fields {
		if _, ok := b.values[f.Name()]; !ok && f.Required() {
			missing = append(missing, f.Name())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w: %s", b.typ.name, ErrMissingField, strings.Join(missing, ", "))
	}
	vals := b.filled()
	for _, f := range b.typ.fields {
		if err := f.validate(vals[f.Name()]); err != nil {
			return err
		}
	}
	return b.typ.checkInvariants(vals)
}

func (b *Builder) filled() Values {
	vals := make(Values, len(b.typ.fields))
	for _, f := range b.typ.fields {
		if v, ok := b.values[f.Name()]; ok {
			vals[f.Name()] = v
		} else {
			vals[f.Name()] = f.zero()
		}
	}
	return vals
}

func (b *Builder) build() *Entity {
	return &Entity{typ: b.typ, id: b.id, values: b.filled(), valid: true}
}
