package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
	"github.com/xraph/loom/run"
)

const runColumns = `id, workflow_name, deployment_id, status,
	input_type, input_data, output_type, output_data,
	execution_context, error_message, error_code,
	started_at, completed_at, created_at, updated_at`

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	inputType, inputData := r.Input.Columns()
	outputType, outputData := r.Output.Columns()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_runs (
			id, workflow_name, deployment_id, status,
			input_type, input_data, output_type, output_data,
			execution_context, error_message, error_code,
			started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15
		)`,
		r.ID.String(), r.WorkflowName, r.DeploymentID, string(r.Status),
		inputType, inputData, outputType, outputData,
		string(r.ExecutionContext), r.ErrorMessage, r.ErrorCode,
		toMsPtr(r.StartedAt), toMsPtr(r.CompletedAt), toMs(r.CreatedAt), toMs(r.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return loom.ErrRunExists
		}

		return fmt.Errorf("loom/postgres: create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`,
		runID.String(),
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrRunNotFound
		}

		return nil, fmt.Errorf("loom/postgres: get run: %w", err)
	}

	return r, nil
}

// UpdateRun persists the full row by primary key.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	inputType, inputData := r.Input.Columns()
	outputType, outputData := r.Output.Columns()

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_runs SET
			workflow_name = $2, deployment_id = $3, status = $4,
			input_type = $5, input_data = $6, output_type = $7, output_data = $8,
			execution_context = $9, error_message = $10, error_code = $11,
			started_at = $12, completed_at = $13, updated_at = $14
		WHERE id = $1`,
		r.ID.String(), r.WorkflowName, r.DeploymentID, string(r.Status),
		inputType, inputData, outputType, outputData,
		string(r.ExecutionContext), r.ErrorMessage, r.ErrorCode,
		toMsPtr(r.StartedAt), toMsPtr(r.CompletedAt), toMs(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrRunNotFound
	}

	return nil
}

// ListRuns returns runs matching opts in keyset order.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE 1=1`
	var args []any

	if opts.WorkflowName != "" {
		args = append(args, opts.WorkflowName)
		query += fmt.Sprintf(" AND workflow_name = $%d", len(args))
	}
	if opts.DeploymentID != "" {
		args = append(args, opts.DeploymentID)
		query += fmt.Sprintf(" AND deployment_id = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query, args = appendWindow(query, args, opts.Window, "id")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// DeleteRun removes a run row. Steps, events, and hooks cascade via the
// schema's foreign keys.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_runs WHERE id = $1`,
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrRunNotFound
	}

	return nil
}

// scanRun scans a single run row in runColumns order.
func scanRun(row pgx.Row) (*run.Run, error) {
	var (
		r                      run.Run
		status                 string
		inputType, inputData   string
		outputType, outputData string
		execCtx                string
		startedAt, completedAt *int64
		createdAt, updatedAt   int64
	)
	err := row.Scan(
		&r.ID, &r.WorkflowName, &r.DeploymentID, &status,
		&inputType, &inputData, &outputType, &outputData,
		&execCtx, &r.ErrorMessage, &r.ErrorCode,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = run.Status(status)
	r.StartedAt = fromMsPtr(startedAt)
	r.CompletedAt = fromMsPtr(completedAt)
	r.CreatedAt = fromMs(createdAt)
	r.UpdatedAt = fromMs(updatedAt)
	if execCtx != "" {
		r.ExecutionContext = json.RawMessage(execCtx)
	}

	input, err := payload.FromColumns(inputType, inputData)
	if err != nil {
		return nil, fmt.Errorf("input reference: %w", err)
	}
	r.Input = input

	output, err := payload.FromColumns(outputType, outputData)
	if err != nil {
		return nil, fmt.Errorf("output reference: %w", err)
	}
	r.Output = output

	return &r, nil
}

// collectRuns collects all runs from query rows.
func collectRuns(rows pgx.Rows) ([]*run.Run, error) {
	var runs []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("loom/postgres: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loom/postgres: iterate run rows: %w", err)
	}

	return runs, nil
}
