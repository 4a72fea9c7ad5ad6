package step

import (
	"context"

	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/id"
)

// ListOpts filters and paginates step list queries at the store layer.
type ListOpts struct {
	// RunID scopes the listing to one run. Required.
	RunID id.RunID
	// Status filters by step status. Empty means all statuses.
	Status Status
	// Name filters by step name. Empty means all steps.
	Name string

	Window cursor.Window
}

// Store defines the persistence contract for workflow steps.
type Store interface {
	// CreateStep persists a new step row.
	CreateStep(ctx context.Context, s *Step) error

	// GetStep retrieves a step by id regardless of owning run, failing
	// with loom.ErrStepNotFound. Run-scoped access checks live in the
	// Repository.
	GetStep(ctx context.Context, stepID id.StepID) (*Step, error)

	// UpdateStep persists the full row by primary key, failing with
	// loom.ErrStepNotFound when the step does not exist.
	UpdateStep(ctx context.Context, s *Step) error

	// ListSteps returns steps matching opts in keyset order.
	ListSteps(ctx context.Context, opts ListOpts) ([]*Step, error)
}
