package state

import (
	"fmt"
)

type writeMode int

const (
	modeMutable writeMode = iota
	modeImmutable
	modeWriteOnce
)

// AnyField is the type-erased view of a Field used by types, keys, builders
// and records.
type AnyField interface {
	Name() string
	Required() bool
	// Serialize returns the persisted form of the field's value on e.
	Serialize(e *Entity) string
	// Forget detaches the field's value from e.
	Forget(e *Entity)

	owner() *Type
	encode(v any) string
	decode(raw string) (any, error)
	zero() any
	validate(v any) error
	attach(k *Key)
}

// FieldOption configures a field at declaration.
type FieldOption func(*fieldOptions)

type fieldOptions struct {
	required bool
	mode     writeMode
}

// Required makes builds fail when the field was never given a value.
func Required() FieldOption { return func(o *fieldOptions) { o.required = true } }

// Immutable rejects every write after the entity is built.
func Immutable() FieldOption { return func(o *fieldOptions) { o.mode = modeImmutable } }

// WriteOnce allows a single write while the value is still null.
func WriteOnce() FieldOption { return func(o *fieldOptions) { o.mode = modeWriteOnce } }

// Field is a named, typed attribute declared on a Type. It holds no per-entity
// data; values live on the entities.
type Field[T any] struct {
	typ      *Type
	name     string
	codec    Codec[T]
	required bool
	mode     writeMode
	check    func(T) error
	keys     []*Key
}

// NewField declares a field on t.
func NewField[T any](t *Type, name string, codec Codec[T], opts ...FieldOption) *Field[T] {
	var o fieldOptions
	for _, opt := range opts {
		opt(&o)
	}
	f := &Field[T]{typ: t, name: name, codec: codec, required: o.required, mode: o.mode}
	t.register(f)
	return f
}

// Check adds a validation run on every Set and every build.
func (f *Field[T]) Check(fn func(T) error) *Field[T] {
	f.check = fn
	return f
}

func (f *Field[T]) Name() string      { return f.name }
func (f *Field[T]) Required() bool    { return f.required }
func (f *Field[T]) Codec() Codec[T]   { return f.codec }
func (f *Field[T]) owner() *Type      { return f.typ }
func (f *Field[T]) attach(k *Key)     { f.keys = append(f.keys, k) }
func (f *Field[T]) String() string    { return f.typ.name + "." + f.name }
func (f *Field[T]) Format(v T) string { return f.codec.Format(v) }

func (f *Field[T]) zero() any {
	var zero T
	return zero
}

func (f *Field[T]) encode(v any) string {
	if t, ok := v.(T); ok {
		return f.codec.Format(t)
	}
	var zero T
	return f.codec.Format(zero)
}

func (f *Field[T]) validate(v any) error {
	if f.check == nil {
		return nil
	}
	t, _ := v.(T)
	if err := f.check(t); err != nil {
		return fmt.Errorf("%s: %w", f, err)
	}
	return nil
}

func (f *Field[T]) decode(raw string) (any, error) {
	v, err := f.codec.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f, err)
	}
	return v, nil
}

// Get returns the value of the field on e. Unloaded entities yield the zero
// value.
func (f *Field[T]) Get(e *Entity) T {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.values[f.name].(T); ok {
		return v
	}
	var zero T
	return zero
}

// Serialize returns the persisted form of the field's value on e.
func (f *Field[T]) Serialize(e *Entity) string {
	return f.codec.Format(f.Get(e))
}

// Set validates and writes v. When the field takes part in a composite key the
// uniqueness check and the write happen under the collection's write lock, so
// two concurrent writers cannot both pass the check.
func (f *Field[T]) Set(e *Entity, v T) error {
	if e.typ != f.typ {
		return fmt.Errorf("set %s on %s: %w", f, e.typ.name, ErrWrongType)
	}
	if f.check != nil {
		if err := f.check(v); err != nil {
			return fmt.Errorf("set %s: %w", f, err)
		}
	}

	if len(f.keys) > 0 && e.coll != nil {
		e.coll.mu.Lock()
		defer e.coll.mu.Unlock()
		candidate := f.codec.Format(v)
		for _, k := range f.keys {
			if err := k.checkWrite(e, f.name, candidate); err != nil {
				return err
			}
		}
	}

	return f.write(e, v)
}

func (f *Field[T]) write(e *Entity, v T) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid {
		return fmt.Errorf("set %s: %w", f, ErrInvalidState)
	}
	switch f.mode {
	case modeImmutable:
		return fmt.Errorf("set %s: %w", f, ErrImmutableField)
	case modeWriteOnce:
		if f.encode(e.values[f.name]) != "" {
			return fmt.Errorf("set %s: %w", f, ErrFieldAlreadySet)
		}
	}

	if len(f.typ.invariants) > 0 {
		candidate := make(Values, len(e.values))
		for k, val := range e.values {
			candidate[k] = val
		}
		candidate[f.name] = v
		if err := f.typ.checkInvariants(candidate); err != nil {
			return fmt.Errorf("set %s: %w", f, err)
		}
	}
	e.values[f.name] = v
	return nil
}

// Initialize writes v without validation or write-mode checks. It is meant
// for first-time population and rehydration.
func (f *Field[T]) Initialize(e *Entity, v T) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid {
		return fmt.Errorf("initialize %s: %w", f, ErrInvalidState)
	}
	e.values[f.name] = v
	return nil
}

// Forget detaches the field's value from e.
func (f *Field[T]) Forget(e *Entity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.values, f.name)
}
