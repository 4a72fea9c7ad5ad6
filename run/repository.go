package run

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

// Repository layers run business rules over a Store: id generation,
// payload tiering, set-once status stamps, and cursor pagination. All
// backends behave identically because this logic never reaches them.
type Repository struct {
	store    Store
	payloads *payload.Store
	logger   *slog.Logger
}

// NewRepository creates a run repository over the given store and payload
// tier.
func NewRepository(store Store, payloads *payload.Store, opts ...Option) *Repository {
	r := &Repository{store: store, payloads: payloads, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}

	return r
}

// CreateParams are the caller-supplied fields of a new run.
type CreateParams struct {
	// WorkflowName is required.
	WorkflowName string
	DeploymentID string

	// Input is the workflow argument list. nil is stored as an empty list.
	Input []any

	// ExecutionContext is an optional JSON object stored inline.
	ExecutionContext json.RawMessage
}

// Create persists a new pending run, tiering its input through the payload
// store under runs/{id}/input.
func (r *Repository) Create(ctx context.Context, params CreateParams) (*Run, error) {
	if params.WorkflowName == "" {
		return nil, errors.New("loom/run: create: workflow name required")
	}

	runID := id.NewRunID()

	input := params.Input
	if input == nil {
		input = []any{}
	}

	inputRef, err := r.payloads.Put(ctx, payload.Key("runs", runID.String(), "input"), input)
	if err != nil {
		return nil, fmt.Errorf("loom/run: create: %w", err)
	}

	rn := &Run{
		Entity:           loom.NewEntity(),
		ID:               runID,
		WorkflowName:     params.WorkflowName,
		DeploymentID:     params.DeploymentID,
		Status:           StatusPending,
		Input:            inputRef,
		ExecutionContext: params.ExecutionContext,
	}

	if err := r.store.CreateRun(ctx, rn); err != nil {
		if delErr := r.payloads.Delete(ctx, inputRef); delErr != nil {
			r.logger.Warn("failed to clean up input blob after create failure",
				slog.String("run_id", runID.String()),
				slog.String("error", delErr.Error()))
		}

		return nil, fmt.Errorf("loom/run: create: %w", err)
	}

	r.logger.Debug("run created",
		slog.String("run_id", runID.String()),
		slog.String("workflow", params.WorkflowName))

	return rn, nil
}

// Get retrieves a run by id, resolving payloads when mode is ResolveAll.
func (r *Repository) Get(ctx context.Context, runID id.RunID, mode loom.ResolveMode) (*Run, error) {
	rn, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if mode == loom.ResolveAll {
		if err := r.resolve(ctx, rn); err != nil {
			return nil, err
		}
	}

	return rn, nil
}

// UpdateParams are the optional fields of a run update. nil fields are
// left untouched.
type UpdateParams struct {
	Status *Status

	// Output, when non-nil, replaces the run output (use JSON "null" for a
	// null output). It is tiered under runs/{id}/output.
	Output json.RawMessage

	// ExecutionContext, when non-nil, replaces the stored context.
	ExecutionContext json.RawMessage

	ErrorMessage *string
	ErrorCode    *string
}

// Update applies params to a run. Setting status to running stamps
// started_at on the first transition only; any terminal status stamps
// completed_at the same way. The repository accepts any transition —
// validity is the coordinator's and caller's concern.
func (r *Repository) Update(ctx context.Context, runID id.RunID, params UpdateParams) (*Run, error) {
	rn, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if params.Status != nil {
		if !params.Status.Valid() {
			return nil, fmt.Errorf("loom/run: invalid status %q", *params.Status)
		}
		rn.applyStatus(*params.Status, time.Now().UTC())
	}

	var replacedOutput payload.Ref
	if params.Output != nil {
		replacedOutput = rn.Output

		ref, putErr := r.payloads.PutRaw(ctx, payload.Key("runs", runID.String(), "output"), params.Output)
		if putErr != nil {
			return nil, fmt.Errorf("loom/run: update output: %w", putErr)
		}
		rn.Output = ref
	}

	if params.ExecutionContext != nil {
		rn.ExecutionContext = params.ExecutionContext
	}
	if params.ErrorMessage != nil {
		rn.ErrorMessage = *params.ErrorMessage
	}
	if params.ErrorCode != nil {
		rn.ErrorCode = *params.ErrorCode
	}

	rn.Touch()

	if err := r.store.UpdateRun(ctx, rn); err != nil {
		return nil, err
	}

	// An output that moved from external to inline leaves its old blob
	// orphaned; same-key external rewrites were already overwritten.
	if params.Output != nil && replacedOutput != rn.Output {
		if delErr := r.payloads.Delete(ctx, replacedOutput); delErr != nil {
			r.logger.Warn("failed to delete replaced output blob",
				slog.String("run_id", runID.String()),
				slog.String("error", delErr.Error()))
		}
	}

	return rn, nil
}

// Cancel marks the run cancelled.
func (r *Repository) Cancel(ctx context.Context, runID id.RunID) (*Run, error) {
	s := StatusCancelled

	return r.Update(ctx, runID, UpdateParams{Status: &s})
}

// Pause suspends the run.
func (r *Repository) Pause(ctx context.Context, runID id.RunID) (*Run, error) {
	s := StatusPaused

	return r.Update(ctx, runID, UpdateParams{Status: &s})
}

// Resume moves a paused run back to running.
func (r *Repository) Resume(ctx context.Context, runID id.RunID) (*Run, error) {
	s := StatusRunning

	return r.Update(ctx, runID, UpdateParams{Status: &s})
}

// ListParams filter and paginate a run listing.
type ListParams struct {
	WorkflowName string
	DeploymentID string
	Status       Status

	// Limit caps the page size; zero disables pagination entirely.
	Limit int
	// Cursor resumes a prior listing. Requires a positive Limit.
	Cursor string
	// Order defaults to newest-first.
	Order cursor.Order

	Resolve loom.ResolveMode
}

// List returns a page of runs sorted by (created_at, id).
func (r *Repository) List(ctx context.Context, params ListParams) (cursor.Page[*Run], error) {
	var zero cursor.Page[*Run]

	if params.Status != "" && !params.Status.Valid() {
		return zero, fmt.Errorf("loom/run: invalid status filter %q", params.Status)
	}

	w, err := cursor.ParseWindow(params.Limit, params.Cursor, params.Order)
	if err != nil {
		return zero, err
	}

	rows, err := r.store.ListRuns(ctx, ListOpts{
		WorkflowName: params.WorkflowName,
		DeploymentID: params.DeploymentID,
		Status:       params.Status,
		Window:       w,
	})
	if err != nil {
		return zero, err
	}

	page := cursor.NewPage(rows, w, func(rn *Run) (string, time.Time) {
		return rn.ID.String(), rn.CreatedAt
	})

	if params.Resolve == loom.ResolveAll {
		g, gctx := errgroup.WithContext(ctx)
		for _, rn := range page.Items {
			rn := rn
			g.Go(func() error { return r.resolve(gctx, rn) })
		}
		if err := g.Wait(); err != nil {
			return zero, err
		}
	}

	return page, nil
}

// resolve dereferences both payload fields in place.
func (r *Repository) resolve(ctx context.Context, rn *Run) error {
	in, err := r.payloads.Resolve(ctx, rn.Input)
	if err != nil {
		return fmt.Errorf("loom/run: resolve input of %s: %w", rn.ID, err)
	}

	out, err := r.payloads.Resolve(ctx, rn.Output)
	if err != nil {
		return fmt.Errorf("loom/run: resolve output of %s: %w", rn.ID, err)
	}

	rn.InputData, rn.OutputData = in, out

	return nil
}
