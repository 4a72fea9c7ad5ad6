package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/step"
)

// CreateStep persists a new step row.
func (s *Store) CreateStep(ctx context.Context, st *step.Step) error {
	m := toStepModel(st)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("loom/bun: create step: duplicate id %s", st.ID)
		}
		return fmt.Errorf("loom/bun: create step: %w", err)
	}
	return nil
}

// GetStep retrieves a step by id.
func (s *Store) GetStep(ctx context.Context, stepID id.StepID) (*step.Step, error) {
	m := new(stepModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", stepID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrStepNotFound
		}
		return nil, fmt.Errorf("loom/bun: get step: %w", err)
	}
	return fromStepModel(m)
}

// UpdateStep persists the full row by primary key.
func (s *Store) UpdateStep(ctx context.Context, st *step.Step) error {
	m := toStepModel(st)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("loom/bun: update step: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return loom.ErrStepNotFound
	}
	return nil
}

// ListSteps returns steps matching opts in keyset order.
func (s *Store) ListSteps(ctx context.Context, opts step.ListOpts) ([]*step.Step, error) {
	var models []stepModel
	q := s.db.NewSelect().Model(&models)

	if !opts.RunID.IsNil() {
		q = q.Where("run_id = ?", opts.RunID.String())
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Name != "" {
		q = q.Where("name = ?", opts.Name)
	}

	q = applyWindow(q, opts.Window, "id")

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: list steps: %w", err)
	}

	steps := make([]*step.Step, 0, len(models))
	for i := range models {
		st, convErr := fromStepModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("loom/bun: list steps convert: %w", convErr)
		}
		steps = append(steps, st)
	}
	return steps, nil
}
