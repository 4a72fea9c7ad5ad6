package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/loom"
	"github.com/xraph/loom/hook"
	"github.com/xraph/loom/id"
)

const hookColumns = `id, run_id, token, owner_id, project_id, environment,
	metadata, created_at, updated_at`

// CreateHook inserts a new hook row. A duplicate id or token returns
// loom.ErrHookExists.
func (s *Store) CreateHook(ctx context.Context, h *hook.Hook) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_hooks (
			id, run_id, token, owner_id, project_id, environment,
			metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ID.String(), h.RunID.String(), h.Token, h.OwnerID, h.ProjectID, h.Environment,
		h.Metadata, toMs(h.CreatedAt), toMs(h.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return loom.ErrHookExists
		}

		return fmt.Errorf("loom/postgres: create hook: %w", err)
	}

	return nil
}

// GetHook returns a hook by id.
func (s *Store) GetHook(ctx context.Context, hookID id.HookID) (*hook.Hook, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+hookColumns+` FROM workflow_hooks WHERE id = $1`,
		hookID.String(),
	)

	h, err := scanHook(row)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrHookNotFound
		}

		return nil, fmt.Errorf("loom/postgres: get hook: %w", err)
	}

	return h, nil
}

// GetHookByToken returns the hook holding the given bearer token.
func (s *Store) GetHookByToken(ctx context.Context, token string) (*hook.Hook, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+hookColumns+` FROM workflow_hooks WHERE token = $1`,
		token,
	)

	h, err := scanHook(row)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrHookNotFound
		}

		return nil, fmt.Errorf("loom/postgres: get hook by token: %w", err)
	}

	return h, nil
}

// ListHooks returns hooks matching opts in keyset order.
func (s *Store) ListHooks(ctx context.Context, opts hook.ListOpts) ([]*hook.Hook, error) {
	query := `SELECT ` + hookColumns + ` FROM workflow_hooks WHERE 1=1`
	var args []any

	if !opts.RunID.IsNil() {
		args = append(args, opts.RunID.String())
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
	}
	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if opts.ProjectID != "" {
		args = append(args, opts.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if opts.Environment != "" {
		args = append(args, opts.Environment)
		query += fmt.Sprintf(" AND environment = $%d", len(args))
	}

	query, args = appendWindow(query, args, opts.Window, "id")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list hooks: %w", err)
	}
	defer rows.Close()

	return collectHooks(rows)
}

// DeleteHook hard-deletes a hook by id.
func (s *Store) DeleteHook(ctx context.Context, hookID id.HookID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_hooks WHERE id = $1`,
		hookID.String(),
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: delete hook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrHookNotFound
	}

	return nil
}

// scanHook scans a single hook row in hookColumns order.
func scanHook(row pgx.Row) (*hook.Hook, error) {
	var (
		h                    hook.Hook
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&h.ID, &h.RunID, &h.Token, &h.OwnerID, &h.ProjectID, &h.Environment,
		&h.Metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	h.CreatedAt = fromMs(createdAt)
	h.UpdatedAt = fromMs(updatedAt)

	return &h, nil
}

// collectHooks collects all hooks from query rows.
func collectHooks(rows pgx.Rows) ([]*hook.Hook, error) {
	var hooks []*hook.Hook
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, fmt.Errorf("loom/postgres: scan hook row: %w", err)
		}
		hooks = append(hooks, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loom/postgres: iterate hook rows: %w", err)
	}

	return hooks, nil
}
