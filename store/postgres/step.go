package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
	"github.com/xraph/loom/step"
)

const stepColumns = `id, run_id, name, status,
	input_type, input_data, output_type, output_data,
	attempt, error_message, error_code,
	started_at, completed_at, created_at, updated_at`

// CreateStep persists a new step row.
func (s *Store) CreateStep(ctx context.Context, st *step.Step) error {
	inputType, inputData := st.Input.Columns()
	outputType, outputData := st.Output.Columns()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_steps (
			id, run_id, name, status,
			input_type, input_data, output_type, output_data,
			attempt, error_message, error_code,
			started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15
		)`,
		st.ID.String(), st.RunID.String(), st.Name, string(st.Status),
		inputType, inputData, outputType, outputData,
		st.Attempt, st.ErrorMessage, st.ErrorCode,
		toMsPtr(st.StartedAt), toMsPtr(st.CompletedAt), toMs(st.CreatedAt), toMs(st.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("loom/postgres: create step: duplicate id %s", st.ID)
		}

		return fmt.Errorf("loom/postgres: create step: %w", err)
	}

	return nil
}

// GetStep retrieves a step by id.
func (s *Store) GetStep(ctx context.Context, stepID id.StepID) (*step.Step, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE id = $1`,
		stepID.String(),
	)

	st, err := scanStep(row)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrStepNotFound
		}

		return nil, fmt.Errorf("loom/postgres: get step: %w", err)
	}

	return st, nil
}

// UpdateStep persists the full row by primary key.
func (s *Store) UpdateStep(ctx context.Context, st *step.Step) error {
	inputType, inputData := st.Input.Columns()
	outputType, outputData := st.Output.Columns()

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_steps SET
			run_id = $2, name = $3, status = $4,
			input_type = $5, input_data = $6, output_type = $7, output_data = $8,
			attempt = $9, error_message = $10, error_code = $11,
			started_at = $12, completed_at = $13, updated_at = $14
		WHERE id = $1`,
		st.ID.String(), st.RunID.String(), st.Name, string(st.Status),
		inputType, inputData, outputType, outputData,
		st.Attempt, st.ErrorMessage, st.ErrorCode,
		toMsPtr(st.StartedAt), toMsPtr(st.CompletedAt), toMs(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrStepNotFound
	}

	return nil
}

// ListSteps returns steps matching opts in keyset order.
func (s *Store) ListSteps(ctx context.Context, opts step.ListOpts) ([]*step.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM workflow_steps WHERE 1=1`
	var args []any

	if !opts.RunID.IsNil() {
		args = append(args, opts.RunID.String())
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if opts.Name != "" {
		args = append(args, opts.Name)
		query += fmt.Sprintf(" AND name = $%d", len(args))
	}

	query, args = appendWindow(query, args, opts.Window, "id")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list steps: %w", err)
	}
	defer rows.Close()

	return collectSteps(rows)
}

// scanStep scans a single step row in stepColumns order.
func scanStep(row pgx.Row) (*step.Step, error) {
	var (
		st                     step.Step
		status                 string
		inputType, inputData   string
		outputType, outputData string
		startedAt, completedAt *int64
		createdAt, updatedAt   int64
	)
	err := row.Scan(
		&st.ID, &st.RunID, &st.Name, &status,
		&inputType, &inputData, &outputType, &outputData,
		&st.Attempt, &st.ErrorMessage, &st.ErrorCode,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	st.Status = step.Status(status)
	st.StartedAt = fromMsPtr(startedAt)
	st.CompletedAt = fromMsPtr(completedAt)
	st.CreatedAt = fromMs(createdAt)
	st.UpdatedAt = fromMs(updatedAt)

	input, err := payload.FromColumns(inputType, inputData)
	if err != nil {
		return nil, fmt.Errorf("input reference: %w", err)
	}
	st.Input = input

	output, err := payload.FromColumns(outputType, outputData)
	if err != nil {
		return nil, fmt.Errorf("output reference: %w", err)
	}
	st.Output = output

	return &st, nil
}

// collectSteps collects all steps from query rows.
func collectSteps(rows pgx.Rows) ([]*step.Step, error) {
	var steps []*step.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("loom/postgres: scan step row: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loom/postgres: iterate step rows: %w", err)
	}

	return steps, nil
}
