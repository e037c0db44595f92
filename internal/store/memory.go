package store

import (
	"context"
	"sync"
	"time"

	"swap_trader/internal/core"
)

// MemoryStore is an in-memory state store for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	state   *core.PersistedState
	failErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailWith makes every subsequent Save return err.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *MemoryStore) Save(ctx context.Context, state *core.PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	state.UpdatedAt = time.Now().UTC()
	cp := *state
	s.state = &cp
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) (*core.PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	cp := *s.state
	return &cp, nil
}

func (s *MemoryStore) Close() error { return nil }
