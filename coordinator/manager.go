package coordinator

import (
	"log/slog"
	"sync"

	"github.com/xraph/loom/id"
)

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager hands out coordination handles keyed by run id. Within one
// manager there is exactly one live handle per run, so every caller
// holding the handle for a run serializes through the same mutex.
type Manager struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	handles map[id.RunID]*Handle
}

// NewManager creates a manager over the given state store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		logger:  slog.Default(),
		handles: make(map[id.RunID]*Handle),
	}
	for _, o := range opts {
		o(m)
	}

	return m
}

// Handle returns the run's coordination handle, creating it if needed.
// The handle is not initialized; call Handle.Initialize before mutating.
func (m *Manager) Handle(runID id.RunID) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handles[runID]
	if !ok {
		h = &Handle{runID: runID, store: m.store, logger: m.logger}
		m.handles[runID] = h
	}

	return h
}

// Release drops the run's handle from the manager. Call it when a run
// reaches a terminal status to free memory; the persisted state is
// untouched and a later Handle + Initialize resumes from it.
func (m *Manager) Release(runID id.RunID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.handles, runID)
}

// Len returns the number of live handles. Handy in tests.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.handles)
}
