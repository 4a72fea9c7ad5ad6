package run

import (
	"context"

	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/id"
)

// ListOpts filters and paginates run list queries at the store layer.
// Stores fetch up to Window.FetchLimit() rows beyond Window.Cursor, sorted
// by (created_at, id) in Window.Order direction.
type ListOpts struct {
	// WorkflowName filters by workflow name. Empty means all workflows.
	WorkflowName string
	// DeploymentID filters by deployment. Empty means all deployments.
	DeploymentID string
	// Status filters by run status. Empty means all statuses.
	Status Status

	Window cursor.Window
}

// Store defines the persistence contract for workflow runs. Stores move
// rows only — payload resolution, timestamp stamping, and pagination
// bookkeeping live in the Repository.
type Store interface {
	// CreateRun persists a new run. A duplicate id fails with
	// loom.ErrRunExists.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun retrieves a run by id, failing with loom.ErrRunNotFound.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists the full row by primary key, failing with
	// loom.ErrRunNotFound when the run does not exist.
	UpdateRun(ctx context.Context, r *Run) error

	// ListRuns returns runs matching opts in keyset order.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// DeleteRun removes a run row; dependent steps, events, and hooks
	// cascade. Fails with loom.ErrRunNotFound when the run does not exist.
	DeleteRun(ctx context.Context, runID id.RunID) error
}
