package hook

import (
	"context"

	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/id"
)

// ListOpts filter a hook listing at the storage layer.
type ListOpts struct {
	// RunID scopes the listing to one run. Optional.
	RunID id.RunID
	// OwnerID, ProjectID and Environment filter by tenancy scope.
	// Empty values match everything.
	OwnerID     string
	ProjectID   string
	Environment string

	Window cursor.Window
}

// Store is the persistence interface for hooks. Implementations live in
// the store backends.
type Store interface {
	// CreateHook inserts a new hook row. A duplicate id or token returns
	// loom.ErrHookExists.
	CreateHook(ctx context.Context, h *Hook) error

	// GetHook returns a hook by id, or loom.ErrHookNotFound.
	GetHook(ctx context.Context, hookID id.HookID) (*Hook, error)

	// GetHookByToken returns the hook holding the given bearer token,
	// or loom.ErrHookNotFound.
	GetHookByToken(ctx context.Context, token string) (*Hook, error)

	// ListHooks returns hooks matching opts sorted by (created_at, id)
	// in the window's order, fetching up to Window.FetchLimit() rows.
	ListHooks(ctx context.Context, opts ListOpts) ([]*Hook, error)

	// DeleteHook hard-deletes a hook by id. Deleting a missing hook
	// returns loom.ErrHookNotFound.
	DeleteHook(ctx context.Context, hookID id.HookID) error
}
