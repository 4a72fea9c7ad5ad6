package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/run"
)

// stepSet names one of the three membership sets.
type stepSet int

const (
	setActive stepSet = iota
	setCompleted
	setFailed
)

// Handle is the single-writer coordination handle for one run. All
// mutating calls are serialized behind the handle's mutex and persist
// the full state snapshot before returning. A mutation that fails to
// persist leaves the in-memory state untouched.
//
// Mutations before Initialize fail with loom.ErrNotInitialized.
type Handle struct {
	runID  id.RunID
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	state *State
}

// RunID returns the run this handle coordinates.
func (h *Handle) RunID() id.RunID { return h.runID }

// Initialize loads the persisted state or creates and persists a fresh
// pending state. Idempotent: initializing a live handle is a no-op.
func (h *Handle) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != nil {
		return nil
	}

	st, err := h.store.Load(ctx, h.runID)
	switch {
	case err == nil:
		h.state = st

	case errors.Is(err, loom.ErrStateNotFound):
		st = &State{
			RunID:     h.runID,
			Status:    run.StatusPending,
			UpdatedAt: time.Now().UTC(),
		}
		if err := h.store.Save(ctx, h.runID, st); err != nil {
			return fmt.Errorf("loom/coordinator: initialize %s: %w", h.runID, err)
		}
		h.state = st

	default:
		return fmt.Errorf("loom/coordinator: initialize %s: %w", h.runID, err)
	}

	h.logger.Debug("coordinator initialized",
		slog.String("run_id", h.runID.String()),
		slog.String("status", string(h.state.Status)),
	)

	return nil
}

// SetStatus updates the run status and persists the snapshot.
func (h *Handle) SetStatus(ctx context.Context, status run.Status) error {
	if !status.Valid() {
		return fmt.Errorf("loom/coordinator: invalid status %q", status)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		return loom.ErrNotInitialized
	}

	next := h.state.Clone()
	next.Status = status

	return h.persist(ctx, next)
}

// StartStep adds the step to the active set. Idempotent; unknown step
// ids are permitted.
func (h *Handle) StartStep(ctx context.Context, stepID id.StepID) error {
	return h.moveStep(ctx, stepID, setActive)
}

// CompleteStep moves the step from the active set to the completed set.
// Idempotent; unknown step ids are permitted.
func (h *Handle) CompleteStep(ctx context.Context, stepID id.StepID) error {
	return h.moveStep(ctx, stepID, setCompleted)
}

// FailStep moves the step from the active set to the failed set.
// Idempotent; unknown step ids are permitted.
func (h *Handle) FailStep(ctx context.Context, stepID id.StepID) error {
	return h.moveStep(ctx, stepID, setFailed)
}

// moveStep puts the step id in exactly one membership set, keeping the
// three sets pairwise disjoint.
func (h *Handle) moveStep(ctx context.Context, stepID id.StepID, target stepSet) error {
	if stepID.IsNil() {
		return errors.New("loom/coordinator: step id required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		return loom.ErrNotInitialized
	}

	next := h.state.Clone()
	next.Active = remove(next.Active, stepID)
	next.Completed = remove(next.Completed, stepID)
	next.Failed = remove(next.Failed, stepID)

	switch target {
	case setActive:
		next.Active = append(next.Active, stepID)
	case setCompleted:
		next.Completed = append(next.Completed, stepID)
	case setFailed:
		next.Failed = append(next.Failed, stepID)
	}

	return h.persist(ctx, next)
}

// CanAcceptSteps reports whether the run is in a state that allows new
// steps (pending or running). An uninitialized handle reports false.
func (h *Handle) CanAcceptSteps() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		return false
	}

	return h.state.Status == run.StatusPending || h.state.Status == run.StatusRunning
}

// SetMetadata sets one metadata key and persists the snapshot.
func (h *Handle) SetMetadata(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("loom/coordinator: metadata key required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		return loom.ErrNotInitialized
	}

	next := h.state.Clone()
	if next.Metadata == nil {
		next.Metadata = make(map[string]string, 1)
	}
	next.Metadata[key] = value

	return h.persist(ctx, next)
}

// GetMetadata returns one metadata value. The second return reports
// whether the key is set; an uninitialized handle reports false.
func (h *Handle) GetMetadata(key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil || h.state.Metadata == nil {
		return "", false
	}

	v, ok := h.state.Metadata[key]

	return v, ok
}

// Metadata returns a copy of the metadata map.
func (h *Handle) Metadata() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil || h.state.Metadata == nil {
		return nil
	}

	m := make(map[string]string, len(h.state.Metadata))
	for k, v := range h.state.Metadata {
		m[k] = v
	}

	return m
}

// Snapshot returns a deep copy of the current state.
func (h *Handle) Snapshot() (*State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == nil {
		return nil, loom.ErrNotInitialized
	}

	return h.state.Clone(), nil
}

// persist writes the candidate snapshot through to the store and only
// then installs it as the live state. Callers hold h.mu.
func (h *Handle) persist(ctx context.Context, next *State) error {
	next.UpdatedAt = time.Now().UTC()

	if err := h.store.Save(ctx, h.runID, next); err != nil {
		return fmt.Errorf("loom/coordinator: persist %s: %w", h.runID, err)
	}

	h.state = next

	return nil
}
