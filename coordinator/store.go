package coordinator

import (
	"context"
	"sync"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
)

// Store persists coordination state snapshots. This is the boundary an
// actor-style runtime plugs into; implementations must make Save durable
// before returning.
type Store interface {
	// Load returns the last saved snapshot for a run, or
	// loom.ErrStateNotFound when none was ever saved.
	Load(ctx context.Context, runID id.RunID) (*State, error)

	// Save durably replaces the run's snapshot.
	Save(ctx context.Context, runID id.RunID, st *State) error

	// Delete removes the run's snapshot. Deleting a missing snapshot is
	// a no-op.
	Delete(ctx context.Context, runID id.RunID) error
}

// MemoryStore is an in-memory coordinator state store for tests and
// single-process deployments. Snapshots are deep-copied on both save and
// load so no caller ever shares state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[id.RunID]*State
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[id.RunID]*State)}
}

func (s *MemoryStore) Load(_ context.Context, runID id.RunID) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[runID]
	if !ok {
		return nil, loom.ErrStateNotFound
	}

	return st.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, runID id.RunID, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[runID] = st.Clone()

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, runID id.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, runID)

	return nil
}
