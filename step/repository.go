package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/loom"
	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
)

// Option configures the Repository.
type Option func(*Repository)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// Repository layers step business rules over a Store. Every read is
// run-scoped: fetching a step under a run id that does not own it fails
// with loom.ErrOwnershipMismatch rather than leaking another run's data.
type Repository struct {
	store    Store
	payloads *payload.Store
	logger   *slog.Logger
}

// NewRepository creates a step repository over the given store and payload
// tier.
func NewRepository(store Store, payloads *payload.Store, opts ...Option) *Repository {
	r := &Repository{store: store, payloads: payloads, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}

	return r
}

// CreateParams are the caller-supplied fields of a new step.
type CreateParams struct {
	// RunID is the owning run. Required.
	RunID id.RunID
	// Name identifies the step within its workflow. Required.
	Name string

	// Input is the step's argument value, tiered under
	// runs/{runID}/steps/{id}/input. nil means no input.
	Input json.RawMessage
}

// Create persists a new pending step with attempt 1.
func (r *Repository) Create(ctx context.Context, params CreateParams) (*Step, error) {
	if params.RunID.IsNil() {
		return nil, errors.New("loom/step: create: run id required")
	}
	if params.Name == "" {
		return nil, errors.New("loom/step: create: step name required")
	}

	stepID := id.NewStepID()

	var inputRef payload.Ref
	if params.Input != nil {
		ref, err := r.payloads.PutRaw(ctx, stepKey(params.RunID, stepID, "input"), params.Input)
		if err != nil {
			return nil, fmt.Errorf("loom/step: create: %w", err)
		}
		inputRef = ref
	}

	s := &Step{
		Entity:  loom.NewEntity(),
		ID:      stepID,
		RunID:   params.RunID,
		Name:    params.Name,
		Status:  StatusPending,
		Input:   inputRef,
		Attempt: 1,
	}

	if err := r.store.CreateStep(ctx, s); err != nil {
		if delErr := r.payloads.Delete(ctx, inputRef); delErr != nil {
			r.logger.Warn("failed to clean up input blob after create failure",
				slog.String("step_id", stepID.String()),
				slog.String("error", delErr.Error()))
		}

		return nil, fmt.Errorf("loom/step: create: %w", err)
	}

	r.logger.Debug("step created",
		slog.String("step_id", stepID.String()),
		slog.String("run_id", params.RunID.String()),
		slog.String("name", params.Name))

	return s, nil
}

// Get retrieves a step under its owning run. A step id that exists but
// belongs to a different run fails with loom.ErrOwnershipMismatch.
func (r *Repository) Get(ctx context.Context, runID id.RunID, stepID id.StepID, mode loom.ResolveMode) (*Step, error) {
	s, err := r.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}

	if s.RunID != runID {
		return nil, fmt.Errorf("loom/step: %s under run %s: %w", stepID, runID, loom.ErrOwnershipMismatch)
	}

	if mode == loom.ResolveAll {
		if err := r.resolve(ctx, s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// UpdateParams are the optional fields of a step update.
type UpdateParams struct {
	Status *Status

	// Output, when non-nil, replaces the step output, tiered under
	// runs/{runID}/steps/{id}/output.
	Output json.RawMessage

	// IncrementAttempt bumps the attempt counter, for retries.
	IncrementAttempt bool

	ErrorMessage *string
	ErrorCode    *string
}

// Update applies params to a step owned by runID. Status timestamps are
// stamped set-once exactly as for runs; transitions are not validated at
// this layer.
func (r *Repository) Update(ctx context.Context, runID id.RunID, stepID id.StepID, params UpdateParams) (*Step, error) {
	s, err := r.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if s.RunID != runID {
		return nil, fmt.Errorf("loom/step: %s under run %s: %w", stepID, runID, loom.ErrOwnershipMismatch)
	}

	if params.Status != nil {
		if !params.Status.Valid() {
			return nil, fmt.Errorf("loom/step: invalid status %q", *params.Status)
		}
		s.applyStatus(*params.Status, time.Now().UTC())
	}

	var replacedOutput payload.Ref
	if params.Output != nil {
		replacedOutput = s.Output

		ref, putErr := r.payloads.PutRaw(ctx, stepKey(runID, stepID, "output"), params.Output)
		if putErr != nil {
			return nil, fmt.Errorf("loom/step: update output: %w", putErr)
		}
		s.Output = ref
	}

	if params.IncrementAttempt {
		s.Attempt++
	}
	if params.ErrorMessage != nil {
		s.ErrorMessage = *params.ErrorMessage
	}
	if params.ErrorCode != nil {
		s.ErrorCode = *params.ErrorCode
	}

	s.Touch()

	if err := r.store.UpdateStep(ctx, s); err != nil {
		return nil, err
	}

	if params.Output != nil && replacedOutput != s.Output {
		if delErr := r.payloads.Delete(ctx, replacedOutput); delErr != nil {
			r.logger.Warn("failed to delete replaced output blob",
				slog.String("step_id", stepID.String()),
				slog.String("error", delErr.Error()))
		}
	}

	return s, nil
}

// ListParams filter and paginate a step listing.
type ListParams struct {
	// RunID scopes the listing. Required.
	RunID id.RunID

	Status Status
	Name   string

	Limit  int
	Cursor string
	Order  cursor.Order

	Resolve loom.ResolveMode
}

// List returns a page of the run's steps sorted by (created_at, id).
func (r *Repository) List(ctx context.Context, params ListParams) (cursor.Page[*Step], error) {
	var zero cursor.Page[*Step]

	if params.RunID.IsNil() {
		return zero, errors.New("loom/step: list: run id required")
	}
	if params.Status != "" && !params.Status.Valid() {
		return zero, fmt.Errorf("loom/step: invalid status filter %q", params.Status)
	}

	w, err := cursor.ParseWindow(params.Limit, params.Cursor, params.Order)
	if err != nil {
		return zero, err
	}

	rows, err := r.store.ListSteps(ctx, ListOpts{
		RunID:  params.RunID,
		Status: params.Status,
		Name:   params.Name,
		Window: w,
	})
	if err != nil {
		return zero, err
	}

	page := cursor.NewPage(rows, w, func(s *Step) (string, time.Time) {
		return s.ID.String(), s.CreatedAt
	})

	if params.Resolve == loom.ResolveAll {
		g, gctx := errgroup.WithContext(ctx)
		for _, s := range page.Items {
			s := s
			g.Go(func() error { return r.resolve(gctx, s) })
		}
		if err := g.Wait(); err != nil {
			return zero, err
		}
	}

	return page, nil
}

// resolve dereferences both payload fields in place.
func (r *Repository) resolve(ctx context.Context, s *Step) error {
	in, err := r.payloads.Resolve(ctx, s.Input)
	if err != nil {
		return fmt.Errorf("loom/step: resolve input of %s: %w", s.ID, err)
	}

	out, err := r.payloads.Resolve(ctx, s.Output)
	if err != nil {
		return fmt.Errorf("loom/step: resolve output of %s: %w", s.ID, err)
	}

	s.InputData, s.OutputData = in, out

	return nil
}

// stepKey builds the blob key for a step payload field, namespaced under
// the owning run so run deletion can account for step blobs.
func stepKey(runID id.RunID, stepID id.StepID, field string) string {
	return payload.Key("runs", runID.String(), "steps", stepID.String(), field)
}
