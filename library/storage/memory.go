package storage

import (
	"context"
	"maps"
	"sync"

	"lbms/library/state"
)

// Memory keeps the last saved snapshot in process memory.
type Memory struct {
	mu   sync.Mutex
	snap state.Snapshot
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(context.Context, []state.Schema) (state.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.snap), nil
}

func (m *Memory) Save(_ context.Context, _ []state.Schema, snap state.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = clone(snap)
	return nil
}

func (m *Memory) Close() error { return nil }

func clone(snap state.Snapshot) state.Snapshot {
	out := make(state.Snapshot, len(snap))
	for name, recs := range snap {
		cp := make([]state.Record, len(recs))
		for i, r := range recs {
			cp[i] = maps.Clone(r)
		}
		out[name] = cp
	}
	return out
}
