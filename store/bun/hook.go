package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/loom"
	"github.com/xraph/loom/hook"
	"github.com/xraph/loom/id"
)

// CreateHook inserts a new hook row. A duplicate id or token returns
// loom.ErrHookExists.
func (s *Store) CreateHook(ctx context.Context, h *hook.Hook) error {
	m := toHookModel(h)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return loom.ErrHookExists
		}
		return fmt.Errorf("loom/bun: create hook: %w", err)
	}
	return nil
}

// GetHook returns a hook by id.
func (s *Store) GetHook(ctx context.Context, hookID id.HookID) (*hook.Hook, error) {
	m := new(hookModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", hookID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrHookNotFound
		}
		return nil, fmt.Errorf("loom/bun: get hook: %w", err)
	}
	return fromHookModel(m)
}

// GetHookByToken returns the hook holding the given bearer token.
func (s *Store) GetHookByToken(ctx context.Context, token string) (*hook.Hook, error) {
	m := new(hookModel)
	err := s.db.NewSelect().Model(m).
		Where("token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrHookNotFound
		}
		return nil, fmt.Errorf("loom/bun: get hook by token: %w", err)
	}
	return fromHookModel(m)
}

// ListHooks returns hooks matching opts in keyset order.
func (s *Store) ListHooks(ctx context.Context, opts hook.ListOpts) ([]*hook.Hook, error) {
	var models []hookModel
	q := s.db.NewSelect().Model(&models)

	if !opts.RunID.IsNil() {
		q = q.Where("run_id = ?", opts.RunID.String())
	}
	if opts.OwnerID != "" {
		q = q.Where("owner_id = ?", opts.OwnerID)
	}
	if opts.ProjectID != "" {
		q = q.Where("project_id = ?", opts.ProjectID)
	}
	if opts.Environment != "" {
		q = q.Where("environment = ?", opts.Environment)
	}

	q = applyWindow(q, opts.Window, "id")

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: list hooks: %w", err)
	}

	hooks := make([]*hook.Hook, 0, len(models))
	for i := range models {
		h, convErr := fromHookModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("loom/bun: list hooks convert: %w", convErr)
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

// DeleteHook hard-deletes a hook by id.
func (s *Store) DeleteHook(ctx context.Context, hookID id.HookID) error {
	res, err := s.db.NewDelete().
		TableExpr("workflow_hooks").
		Where("id = ?", hookID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("loom/bun: delete hook: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return loom.ErrHookNotFound
	}
	return nil
}
