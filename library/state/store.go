package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Backend persists snapshots. Load is called once at startup and Save once
// at shutdown; Save must not leave previously good data half-written.
type Backend interface {
	Load(ctx context.Context, schemas []Schema) (Snapshot, error)
	Save(ctx context.Context, schemas []Schema, snap Snapshot) error
	Close() error
}

// Store is the storage facade: it owns one collection per registered type,
// loads them from the backend and writes them back.
type Store struct {
	backend Backend
	logger  *slog.Logger
	types   []*Type

	mu     sync.RWMutex
	colls  map[*Type]*Collection
	loaded bool
	closed bool
}

// NewStore creates a store for types persisted through backend. A nil logger
// discards log output.
func NewStore(backend Backend, logger *slog.Logger, types ...*Type) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	colls := make(map[*Type]*Collection, len(types))
	for _, t := range types {
		colls[t] = newCollection(t)
	}
	return &Store{backend: backend, logger: logger, types: types, colls: colls}
}

// Schemas lists the persisted layout of every registered type.
func (s *Store) Schemas() []Schema {
	out := make([]Schema, len(s.types))
	for i, t := range s.types {
		out[i] = t.Schema()
	}
	return out
}

// Initialize loads every persisted entity into memory.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return ErrAlreadyInitialized
	}

	snap, err := s.backend.Load(ctx, s.Schemas())
	if err != nil {
		return err
	}

	for _, t := range s.types {
		coll := s.colls[t]
		for _, rec := range snap[t.name] {
			b := BuilderFromRecord(t, rec)
			if err := b.Valid(); err != nil {
				return &StorageError{Op: "load", Err: errors.Join(ErrCorruptData, err)}
			}
			if _, err := coll.insert(b); err != nil {
				return &StorageError{Op: "load", Err: errors.Join(ErrCorruptData, err)}
			}
		}
		s.logger.Debug("state loaded", "type", t.name, "records", len(snap[t.name]))
	}
	s.loaded = true
	return nil
}

// Insert validates b, assigns the next id of its type and indexes the new
// entity.
func (s *Store) Insert(b *Builder) (*Entity, error) {
	coll, err := s.collection(b.typ)
	if err != nil {
		return nil, err
	}
	if err := b.Valid(); err != nil {
		return nil, err
	}
	return coll.insert(b)
}

// Query starts an unfiltered query over t.
func (s *Store) Query(t *Type) *Query {
	coll, err := s.collection(t)
	if err != nil {
		// An unregistered type is a programming error; an empty query keeps
		// callers simple.
		return &Query{coll: newCollection(t)}
	}
	return &Query{coll: coll}
}

// Get returns the entity of type t with id.
func (s *Store) Get(t *Type, id int64) (*Entity, bool) {
	coll, err := s.collection(t)
	if err != nil {
		return nil, false
	}
	return coll.get(id)
}

// Snapshot serializes every live entity.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(Snapshot, len(s.types))
	for _, t := range s.types {
		snap[t.name] = s.colls[t].records()
	}
	return snap
}

// Cleanup persists every live entity and unloads them. After Cleanup the
// store and every entity it held are invalid.
func (s *Store) Cleanup(ctx context.Context) error {
	snap := s.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotInitialized
	}
	if s.closed {
		return nil
	}
	if err := s.backend.Save(ctx, s.Schemas(), snap); err != nil {
		return err
	}
	for _, t := range s.types {
		s.colls[t].unload()
		s.logger.Debug("state saved", "type", t.name, "records", len(snap[t.name]))
	}
	s.closed = true
	return nil
}

func (s *Store) collection(t *Type) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrInvalidState
	}
	coll, ok := s.colls[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t.name)
	}
	return coll, nil
}
