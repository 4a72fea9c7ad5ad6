package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/run"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	m := toRunModel(r)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return loom.ErrRunExists
		}
		return fmt.Errorf("loom/bun: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	m := new(runModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", runID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrRunNotFound
		}
		return nil, fmt.Errorf("loom/bun: get run: %w", err)
	}
	return fromRunModel(m)
}

// UpdateRun persists the full row by primary key.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	m := toRunModel(r)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("loom/bun: update run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return loom.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs matching opts in keyset order.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	var models []runModel
	q := s.db.NewSelect().Model(&models)

	if opts.WorkflowName != "" {
		q = q.Where("workflow_name = ?", opts.WorkflowName)
	}
	if opts.DeploymentID != "" {
		q = q.Where("deployment_id = ?", opts.DeploymentID)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}

	q = applyWindow(q, opts.Window, "id")

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: list runs: %w", err)
	}

	runs := make([]*run.Run, 0, len(models))
	for i := range models {
		r, convErr := fromRunModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("loom/bun: list runs convert: %w", convErr)
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// DeleteRun removes a run row. Steps, events, and hooks cascade via the
// schema's foreign keys.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	res, err := s.db.NewDelete().
		TableExpr("workflow_runs").
		Where("id = ?", runID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("loom/bun: delete run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return loom.ErrRunNotFound
	}
	return nil
}
