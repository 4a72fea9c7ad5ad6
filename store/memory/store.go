// Package memory implements store.Store entirely in memory. Intended for
// unit testing and development; rows live in maps behind one RWMutex and
// every read returns a copy. List operations apply the same keyset
// predicate and (created_at, id) ordering as the SQL backends, comparing
// timestamps at millisecond precision, so pagination behaves identically.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/event"
	"github.com/xraph/loom/hook"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/queue"
	"github.com/xraph/loom/run"
	"github.com/xraph/loom/step"
	"github.com/xraph/loom/stream"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ run.Store    = (*Store)(nil)
	_ step.Store   = (*Store)(nil)
	_ event.Store  = (*Store)(nil)
	_ hook.Store   = (*Store)(nil)
	_ queue.Store  = (*Store)(nil)
	_ stream.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	runs     map[string]*run.Run
	steps    map[string]*step.Step
	events   map[string]*event.Event
	hooks    map[string]*hook.Hook
	messages map[string]*queue.Message
	streams  map[string]*stream.Stream
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:     make(map[string]*run.Run),
		steps:    make(map[string]*step.Step),
		events:   make(map[string]*event.Event),
		hooks:    make(map[string]*hook.Hook),
		messages: make(map[string]*queue.Message),
		streams:  make(map[string]*stream.Stream),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Keyset helpers
// ──────────────────────────────────────────────────

// keysetCompare orders two rows by (created_at, id) ascending, comparing
// timestamps at millisecond precision like the SQL backends do.
func keysetCompare(aTS time.Time, aID string, bTS time.Time, bID string) int {
	at, bt := aTS.UnixMilli(), bTS.UnixMilli()
	switch {
	case at < bt:
		return -1
	case at > bt:
		return 1
	case aID < bID:
		return -1
	case aID > bID:
		return 1
	default:
		return 0
	}
}

// sortWindow sorts rows in the window's direction and truncates them to
// the window's fetch limit. key extracts each row's (id, created_at).
func sortWindow[T any](rows []T, w cursor.Window, key func(T) (string, time.Time)) []T {
	dir := w.Direction()
	sort.Slice(rows, func(i, j int) bool {
		iID, iTS := key(rows[i])
		jID, jTS := key(rows[j])
		c := keysetCompare(iTS, iID, jTS, jID)
		if dir == cursor.Asc {
			return c < 0
		}

		return c > 0
	})

	if n := w.FetchLimit(); n > 0 && len(rows) > n {
		rows = rows[:n]
	}

	return rows
}

// beyondCursor reports whether a row belongs to the page the window asks
// for. Rows at or before the cursor are filtered out.
func beyondCursor(w cursor.Window, createdAt time.Time, rowID string) bool {
	if w.Cursor == nil {
		return true
	}

	return w.Cursor.Matches(createdAt, rowID, w.Direction())
}

// ──────────────────────────────────────────────────
// Run store
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.runs[key]; exists {
		return loom.ErrRunExists
	}

	cp := *r
	m.runs[key] = &cp

	return nil
}

// GetRun retrieves a run by id.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, loom.ErrRunNotFound
	}

	cp := *r

	return &cp, nil
}

// UpdateRun persists changes to an existing run.
func (m *Store) UpdateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.runs[key]; !ok {
		return loom.ErrRunNotFound
	}

	cp := *r
	m.runs[key] = &cp

	return nil
}

// ListRuns returns runs matching opts in keyset order.
func (m *Store) ListRuns(_ context.Context, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.WorkflowName != "" && r.WorkflowName != opts.WorkflowName {
			continue
		}
		if opts.DeploymentID != "" && r.DeploymentID != opts.DeploymentID {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if !beyondCursor(opts.Window, r.CreatedAt, r.ID.String()) {
			continue
		}

		cp := *r
		result = append(result, &cp)
	}

	result = sortWindow(result, opts.Window, func(r *run.Run) (string, time.Time) {
		return r.ID.String(), r.CreatedAt
	})

	return result, nil
}

// DeleteRun removes a run and cascades to its steps, events, and hooks,
// the way the SQL backends' foreign keys do.
func (m *Store) DeleteRun(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runID.String()
	if _, ok := m.runs[key]; !ok {
		return loom.ErrRunNotFound
	}
	delete(m.runs, key)

	for k, s := range m.steps {
		if s.RunID == runID {
			delete(m.steps, k)
		}
	}
	for k, evt := range m.events {
		if evt.RunID == runID {
			delete(m.events, k)
		}
	}
	for k, h := range m.hooks {
		if h.RunID == runID {
			delete(m.hooks, k)
		}
	}

	return nil
}

// ──────────────────────────────────────────────────
// Step store
// ──────────────────────────────────────────────────

// CreateStep persists a new step row.
func (m *Store) CreateStep(_ context.Context, s *step.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	if _, exists := m.steps[key]; exists {
		return fmt.Errorf("loom/memory: create step: duplicate id %s", key)
	}

	cp := *s
	m.steps[key] = &cp

	return nil
}

// GetStep retrieves a step by id.
func (m *Store) GetStep(_ context.Context, stepID id.StepID) (*step.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.steps[stepID.String()]
	if !ok {
		return nil, loom.ErrStepNotFound
	}

	cp := *s

	return &cp, nil
}

// UpdateStep persists changes to an existing step.
func (m *Store) UpdateStep(_ context.Context, s *step.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	if _, ok := m.steps[key]; !ok {
		return loom.ErrStepNotFound
	}

	cp := *s
	m.steps[key] = &cp

	return nil
}

// ListSteps returns steps matching opts in keyset order.
func (m *Store) ListSteps(_ context.Context, opts step.ListOpts) ([]*step.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*step.Step, 0, len(m.steps))
	for _, s := range m.steps {
		if !opts.RunID.IsNil() && s.RunID != opts.RunID {
			continue
		}
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		if opts.Name != "" && s.Name != opts.Name {
			continue
		}
		if !beyondCursor(opts.Window, s.CreatedAt, s.ID.String()) {
			continue
		}

		cp := *s
		result = append(result, &cp)
	}

	result = sortWindow(result, opts.Window, func(s *step.Step) (string, time.Time) {
		return s.ID.String(), s.CreatedAt
	})

	return result, nil
}

// ──────────────────────────────────────────────────
// Event store
// ──────────────────────────────────────────────────

// CreateEvent appends a new event.
func (m *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := evt.ID.String()
	if _, exists := m.events[key]; exists {
		return fmt.Errorf("loom/memory: create event: duplicate id %s", key)
	}

	cp := *evt
	m.events[key] = &cp

	return nil
}

// GetEvent retrieves an event by id.
func (m *Store) GetEvent(_ context.Context, eventID id.EventID) (*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	evt, ok := m.events[eventID.String()]
	if !ok {
		return nil, loom.ErrEventNotFound
	}

	cp := *evt

	return &cp, nil
}

// ListEvents returns events matching opts in keyset order.
func (m *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*event.Event, 0, len(m.events))
	for _, evt := range m.events {
		if !opts.RunID.IsNil() && evt.RunID != opts.RunID {
			continue
		}
		if opts.CorrelationID != "" && evt.CorrelationID != opts.CorrelationID {
			continue
		}
		if opts.Type != "" && evt.Type != opts.Type {
			continue
		}
		if !beyondCursor(opts.Window, evt.CreatedAt, evt.ID.String()) {
			continue
		}

		cp := *evt
		result = append(result, &cp)
	}

	result = sortWindow(result, opts.Window, func(evt *event.Event) (string, time.Time) {
		return evt.ID.String(), evt.CreatedAt
	})

	return result, nil
}

// ──────────────────────────────────────────────────
// Hook store
// ──────────────────────────────────────────────────

// CreateHook inserts a new hook row.
func (m *Store) CreateHook(_ context.Context, h *hook.Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := h.ID.String()
	if _, exists := m.hooks[key]; exists {
		return loom.ErrHookExists
	}
	for _, existing := range m.hooks {
		if existing.Token == h.Token {
			return loom.ErrHookExists
		}
	}

	cp := *h
	cp.Metadata = maps.Clone(h.Metadata)
	m.hooks[key] = &cp

	return nil
}

// GetHook returns a hook by id.
func (m *Store) GetHook(_ context.Context, hookID id.HookID) (*hook.Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hooks[hookID.String()]
	if !ok {
		return nil, loom.ErrHookNotFound
	}

	return copyHook(h), nil
}

// GetHookByToken returns the hook holding the given bearer token.
func (m *Store) GetHookByToken(_ context.Context, token string) (*hook.Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.hooks {
		if h.Token == token {
			return copyHook(h), nil
		}
	}

	return nil, loom.ErrHookNotFound
}

// ListHooks returns hooks matching opts in keyset order.
func (m *Store) ListHooks(_ context.Context, opts hook.ListOpts) ([]*hook.Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*hook.Hook, 0, len(m.hooks))
	for _, h := range m.hooks {
		if !opts.RunID.IsNil() && h.RunID != opts.RunID {
			continue
		}
		if opts.OwnerID != "" && h.OwnerID != opts.OwnerID {
			continue
		}
		if opts.ProjectID != "" && h.ProjectID != opts.ProjectID {
			continue
		}
		if opts.Environment != "" && h.Environment != opts.Environment {
			continue
		}
		if !beyondCursor(opts.Window, h.CreatedAt, h.ID.String()) {
			continue
		}

		result = append(result, copyHook(h))
	}

	result = sortWindow(result, opts.Window, func(h *hook.Hook) (string, time.Time) {
		return h.ID.String(), h.CreatedAt
	})

	return result, nil
}

// DeleteHook hard-deletes a hook by id.
func (m *Store) DeleteHook(_ context.Context, hookID id.HookID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := hookID.String()
	if _, ok := m.hooks[key]; !ok {
		return loom.ErrHookNotFound
	}
	delete(m.hooks, key)

	return nil
}

func copyHook(h *hook.Hook) *hook.Hook {
	cp := *h
	cp.Metadata = maps.Clone(h.Metadata)

	return &cp
}

// ──────────────────────────────────────────────────
// Queue message store
// ──────────────────────────────────────────────────

// InsertMessage inserts a new message row, enforcing the
// (queue_name, idempotency_key) uniqueness the SQL backends get from a
// partial unique index.
func (m *Store) InsertMessage(_ context.Context, msg *queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := msg.ID.String()
	if _, exists := m.messages[key]; exists {
		return loom.ErrMessageExists
	}
	if msg.IdempotencyKey != "" {
		for _, existing := range m.messages {
			if existing.QueueName == msg.QueueName && existing.IdempotencyKey == msg.IdempotencyKey {
				return loom.ErrMessageExists
			}
		}
	}

	cp := *msg
	m.messages[key] = &cp

	return nil
}

// GetMessage returns a message by id.
func (m *Store) GetMessage(_ context.Context, messageID id.MessageID) (*queue.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[messageID.String()]
	if !ok {
		return nil, loom.ErrMessageNotFound
	}

	cp := *msg

	return &cp, nil
}

// GetMessageByKey returns the message holding the given idempotency key
// within a queue.
func (m *Store) GetMessageByKey(_ context.Context, queueName, idempotencyKey string) (*queue.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if idempotencyKey == "" {
		return nil, loom.ErrMessageNotFound
	}

	for _, msg := range m.messages {
		if msg.QueueName == queueName && msg.IdempotencyKey == idempotencyKey {
			cp := *msg

			return &cp, nil
		}
	}

	return nil, loom.ErrMessageNotFound
}

// MarkProcessed stamps ProcessedAt once; marking an already-processed
// message keeps the original timestamp.
func (m *Store) MarkProcessed(_ context.Context, messageID id.MessageID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageID.String()]
	if !ok {
		return loom.ErrMessageNotFound
	}

	if msg.ProcessedAt == nil {
		t := at.UTC()
		msg.ProcessedAt = &t
		msg.UpdatedAt = time.Now().UTC()
	}

	return nil
}

// ListMessages returns messages matching opts in keyset order.
func (m *Store) ListMessages(_ context.Context, opts queue.ListOpts) ([]*queue.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*queue.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if opts.QueueName != "" && msg.QueueName != opts.QueueName {
			continue
		}
		if opts.Processed != nil && msg.Processed() != *opts.Processed {
			continue
		}
		if !beyondCursor(opts.Window, msg.CreatedAt, msg.ID.String()) {
			continue
		}

		cp := *msg
		result = append(result, &cp)
	}

	result = sortWindow(result, opts.Window, func(msg *queue.Message) (string, time.Time) {
		return msg.ID.String(), msg.CreatedAt
	})

	return result, nil
}

// ──────────────────────────────────────────────────
// Stream store
// ──────────────────────────────────────────────────

// CreateStream inserts a new stream row.
func (m *Store) CreateStream(_ context.Context, st *stream.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.streams[st.Name]; exists {
		return loom.ErrStreamExists
	}

	cp := *st
	m.streams[st.Name] = &cp

	return nil
}

// GetStream returns a stream by name.
func (m *Store) GetStream(_ context.Context, name string) (*stream.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.streams[name]
	if !ok {
		return nil, loom.ErrStreamNotFound
	}

	cp := *st

	return &cp, nil
}

// UpdateStream replaces the stream row identified by st.Name.
func (m *Store) UpdateStream(_ context.Context, st *stream.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[st.Name]; !ok {
		return loom.ErrStreamNotFound
	}

	cp := *st
	m.streams[st.Name] = &cp

	return nil
}

// ListStreams returns streams in keyset order, keyed by (created_at, name).
func (m *Store) ListStreams(_ context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*stream.Stream, 0, len(m.streams))
	for _, st := range m.streams {
		if !beyondCursor(opts.Window, st.CreatedAt, st.Name) {
			continue
		}

		cp := *st
		result = append(result, &cp)
	}

	result = sortWindow(result, opts.Window, func(st *stream.Stream) (string, time.Time) {
		return st.Name, st.CreatedAt
	})

	return result, nil
}

// DeleteStream removes a stream row by name.
func (m *Store) DeleteStream(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[name]; !ok {
		return loom.ErrStreamNotFound
	}
	delete(m.streams, name)

	return nil
}
