package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A small schema mirroring the shape of the library types.
var (
	shelfType    = NewType("shelf")
	shelfRoom    = NewField(shelfType, "room", String, Required())
	shelfSlot    = NewField(shelfType, "slot", OptionalInt)
	shelfLabel   = NewField(shelfType, "label", String, Immutable())
	shelfSize    = NewField(shelfType, "size", Int64)
	shelfUsed    = NewField(shelfType, "used", Int64)
	shelfEmptied = NewField(shelfType, "emptied", OptionalTime, WriteOnce())
	_            = NewKey(shelfType, shelfRoom, shelfSlot)
)

func init() {
	shelfSize.Check(func(v int64) error {
		if v < 0 {
			return errors.New("size must not be negative")
		}
		return nil
	})
	shelfType.Invariant(func(v Values) error {
		if Lookup(v, shelfUsed) > Lookup(v, shelfSize) {
			return errors.New("used exceeds size")
		}
		return nil
	})
}

type memBackend struct {
	snap  Snapshot
	saved Snapshot
	err   error
}

func (m *memBackend) Load(context.Context, []Schema) (Snapshot, error) { return m.snap, m.err }

func (m *memBackend) Save(_ context.Context, _ []Schema, s Snapshot) error {
	m.saved = s
	return m.err
}

func (m *memBackend) Close() error { return nil }

func newStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(&memBackend{}, nil, shelfType)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func slot(n int64) *int64 { return &n }

func insertShelf(t *testing.T, s *Store, room string, n *int64) *Entity {
	t.Helper()
	b := NewBuilder(shelfType)
	Put(b, shelfRoom, room)
	Put(b, shelfSlot, n)
	Put(b, shelfLabel, room+"-label")
	Put(b, shelfSize, 10)
	e, err := s.Insert(b)
	require.NoError(t, err)
	return e
}

func TestInsertAssignsSequentialIDs(t *testing.T) {
	s := newStore(t)
	a := insertShelf(t, s, "A", slot(1))
	b := insertShelf(t, s, "A", slot(2))
	c := insertShelf(t, s, "B", slot(1))

	assert.Equal(t, []int64{1, 2, 3}, []int64{a.ID(), b.ID(), c.ID()})
}

func TestBuilderValidity(t *testing.T) {
	s := newStore(t)

	_, err := s.Insert(NewBuilder(shelfType))
	assert.ErrorIs(t, err, ErrMissingField)

	b := NewBuilder(shelfType)
	Put(b, shelfRoom, "A")
	Put(b, shelfSize, -1)
	_, err = s.Insert(b)
	assert.Error(t, err)

	b = NewBuilder(shelfType)
	Put(b, shelfRoom, "A")
	Put(b, shelfSize, 1)
	Put(b, shelfUsed, 2)
	_, err = s.Insert(b)
	assert.Error(t, err)
}

func TestFieldWriteModes(t *testing.T) {
	s := newStore(t)
	e := insertShelf(t, s, "A", slot(1))

	assert.ErrorIs(t, shelfLabel.Set(e, "other"), ErrImmutableField)
	assert.Equal(t, "A-label", shelfLabel.Get(e))
	require.NoError(t, shelfLabel.Initialize(e, "forced"))
	assert.Equal(t, "forced", shelfLabel.Get(e))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, shelfEmptied.Set(e, &now))
	assert.ErrorIs(t, shelfEmptied.Set(e, &now), ErrFieldAlreadySet)

	assert.Error(t, shelfSize.Set(e, -5))
	assert.Equal(t, int64(10), shelfSize.Get(e))

	assert.Error(t, shelfUsed.Set(e, 11))
	require.NoError(t, shelfUsed.Set(e, 10))
}

func TestKeyRejectsDuplicateTupleAndLeavesValue(t *testing.T) {
	s := newStore(t)
	insertShelf(t, s, "A", slot(1))
	e := insertShelf(t, s, "A", slot(2))

	err := shelfSlot.Set(e, slot(1))
	require.ErrorIs(t, err, ErrConstraintViolation)
	assert.Equal(t, int64(2), *shelfSlot.Get(e))

	err = shelfRoom.Set(insertShelf(t, s, "B", slot(1)), "A")
	assert.ErrorIs(t, err, ErrConstraintViolation)

	// Writing the entity's own tuple is not a conflict.
	require.NoError(t, shelfSlot.Set(e, slot(2)))
}

func TestKeyIgnoresNullTuples(t *testing.T) {
	s := newStore(t)
	a := insertShelf(t, s, "A", slot(1))
	b := insertShelf(t, s, "A", slot(2))

	require.NoError(t, shelfSlot.Set(a, nil))
	require.NoError(t, shelfSlot.Set(b, nil))
	insertShelf(t, s, "A", nil)
	insertShelf(t, s, "A", slot(1))
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	s := newStore(t)
	insertShelf(t, s, "A", slot(1))

	b := NewBuilder(shelfType)
	Put(b, shelfRoom, "A")
	Put(b, shelfSlot, slot(1))
	_, err := s.Insert(b)
	assert.ErrorIs(t, err, ErrConstraintViolation)
	assert.Equal(t, 1, s.Query(shelfType).Count())
}

func TestConcurrentKeyWritesExactlyOneWins(t *testing.T) {
	for round := 0; round < 20; round++ {
		s := newStore(t)
		a := insertShelf(t, s, "A", slot(1))
		b := insertShelf(t, s, "A", slot(2))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for i, e := range []*Entity{a, b} {
			wg.Add(1)
			go func(i int, e *Entity) {
				defer wg.Done()
				<-start
				errs[i] = shelfSlot.Set(e, slot(7))
			}(i, e)
		}
		close(start)
		wg.Wait()

		failures := 0
		for _, err := range errs {
			if err != nil {
				require.ErrorIs(t, err, ErrConstraintViolation)
				failures++
			}
		}
		assert.Equal(t, 1, failures)
		assert.Equal(t, 1, s.Query(shelfType).Where(Eq(shelfSlot, slot(7))).Count())
	}
}

func TestQueryIsLazyAndRepeatable(t *testing.T) {
	s := newStore(t)
	q := s.Query(shelfType).Where(Eq(shelfRoom, "A"))
	assert.Zero(t, q.Count())

	insertShelf(t, s, "A", slot(1))
	insertShelf(t, s, "B", slot(1))
	insertShelf(t, s, "A", slot(2))

	assert.Equal(t, 2, q.Count())
	assert.Equal(t, 2, q.Count())

	narrowed := q.Where(Eq(shelfSlot, slot(2)))
	e, ok := narrowed.First()
	require.True(t, ok)
	assert.Equal(t, int64(3), e.ID())
	assert.Equal(t, 2, q.Count(), "narrowing must not change the parent query")

	var ids []int64
	for e := range s.Query(shelfType).Results() {
		ids = append(ids, e.ID())
		if len(ids) == 2 {
			break
		}
	}
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestInitializeRehydratesAndContinuesIDs(t *testing.T) {
	backend := &memBackend{snap: Snapshot{
		"shelf": {
			{"id": "4", "room": "A", "slot": "1", "label": "x", "size": "3", "used": "1", "emptied": ""},
			{"id": "2", "room": "B", "slot": "", "label": "y", "size": "3", "used": "0", "emptied": "2026-01-02T10:00:00Z"},
		},
	}}
	s := NewStore(backend, nil, shelfType)
	require.NoError(t, s.Initialize(context.Background()))

	e, ok := s.Get(shelfType, 4)
	require.True(t, ok)
	assert.Equal(t, "A", shelfRoom.Get(e))

	fresh := insertShelf(t, s, "C", slot(1))
	assert.Equal(t, int64(5), fresh.ID())

	var ids []int64
	for e := range s.Query(shelfType).Results() {
		ids = append(ids, e.ID())
	}
	assert.Equal(t, []int64{2, 4, 5}, ids)
}

func TestInitializeRejectsCorruptRecords(t *testing.T) {
	backend := &memBackend{snap: Snapshot{
		"shelf": {{"id": "1", "room": "A", "size": "many"}},
	}}
	s := NewStore(backend, nil, shelfType)
	err := s.Initialize(context.Background())
	require.ErrorIs(t, err, ErrCorruptData)

	var serr *StorageError
	assert.ErrorAs(t, err, &serr)
}

func TestCleanupRoundTripsAndInvalidates(t *testing.T) {
	backend := &memBackend{}
	s := NewStore(backend, nil, shelfType)
	require.NoError(t, s.Initialize(context.Background()))
	e := insertShelf(t, s, "A", slot(1))
	insertShelf(t, s, "B", nil)
	first := s.Snapshot()

	require.NoError(t, s.Cleanup(context.Background()))
	assert.Equal(t, first, backend.saved)
	assert.False(t, e.Valid())
	assert.ErrorIs(t, shelfSize.Set(e, 1), ErrInvalidState)
	assert.Equal(t, "", shelfRoom.Get(e))

	reloaded := NewStore(&memBackend{snap: backend.saved}, nil, shelfType)
	require.NoError(t, reloaded.Initialize(context.Background()))
	assert.Equal(t, first, reloaded.Snapshot())
}

func TestForgetDetachesOneField(t *testing.T) {
	s := NewStore(&memBackend{}, nil, shelfType)
	require.NoError(t, s.Initialize(context.Background()))
	e := insertShelf(t, s, "A", slot(1))

	shelfLabel.Forget(e)
	assert.True(t, e.Valid())
	assert.Equal(t, "", shelfLabel.Get(e))
	assert.Equal(t, "A", shelfRoom.Get(e))
	assert.Equal(t, int64(10), shelfSize.Get(e))

	require.NoError(t, s.Cleanup(context.Background()))
	assert.False(t, e.Valid())
	assert.Equal(t, "", shelfRoom.Get(e))
	assert.Nil(t, shelfSlot.Get(e))
	assert.Zero(t, shelfSize.Get(e))
}

func TestBuilderFromFieldsGetsNextID(t *testing.T) {
	s := newStore(t)
	insertShelf(t, s, "A", slot(1))

	b := BuilderFromFields(shelfType, Record{"room": "C", "slot": "", "label": "imported", "size": "4"})
	require.NoError(t, b.Valid())
	e, err := s.Insert(b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.ID())
	assert.Nil(t, shelfSlot.Get(e))

	_, err = s.Insert(BuilderFromFields(shelfType, Record{"label": "no room"}))
	assert.ErrorIs(t, err, ErrMissingField)

	big := s.Query(shelfType).Where(Match(func(e *Entity) bool { return shelfSize.Get(e) > 5 }))
	assert.Equal(t, 1, big.Count())
}

func TestParseCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"12", 1200, true},
		{"12.5", 1250, true},
		{"$0.05", 5, true},
		{".75", 75, true},
		{"-3.10", -310, true},
		{"1.234", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"1.-5", 0, false},
		{"1.+5", 0, false},
		{"1.5x", 0, false},
		{"+1.50", 0, false},
		{"--2", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCents(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "-3.10", FormatCents(-310))
	assert.Equal(t, "0.05", FormatCents(5))
}
