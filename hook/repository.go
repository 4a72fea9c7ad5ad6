package hook

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/scope"
)

// tokenBytes is the entropy of a generated bearer token.
const tokenBytes = 32

// Option configures the Repository.
type Option func(*Repository)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// Repository manages hook registrations over a Store.
type Repository struct {
	store  Store
	logger *slog.Logger
}

// NewRepository creates a hook repository over the given store.
func NewRepository(store Store, opts ...Option) *Repository {
	r := &Repository{store: store, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}

	return r
}

// CreateParams are the fields of a new hook.
type CreateParams struct {
	// RunID is the run this hook belongs to. Required.
	RunID id.RunID
	// Metadata is a small set of caller-supplied labels, stored inline.
	Metadata map[string]string
	// Scope overrides the tenancy captured from the context. Optional.
	Scope *scope.Scope
}

// Create registers a new hook with a freshly generated bearer token.
// Tenancy is taken from params.Scope when set, otherwise captured from
// the context.
func (r *Repository) Create(ctx context.Context, params CreateParams) (*Hook, error) {
	if params.RunID.IsNil() {
		return nil, errors.New("loom/hook: create: run id required")
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("loom/hook: create: %w", err)
	}

	s, ok := scope.FromContext(ctx)
	if params.Scope != nil {
		s = *params.Scope
	} else if !ok {
		s = scope.Scope{}
	}

	var metadata map[string]string
	if len(params.Metadata) > 0 {
		metadata = make(map[string]string, len(params.Metadata))
		for k, v := range params.Metadata {
			metadata[k] = v
		}
	}

	h := &Hook{
		Entity:      loom.NewEntity(),
		ID:          id.NewHookID(),
		RunID:       params.RunID,
		Token:       token,
		OwnerID:     s.OwnerID,
		ProjectID:   s.ProjectID,
		Environment: s.Environment,
		Metadata:    metadata,
	}

	if err := r.store.CreateHook(ctx, h); err != nil {
		return nil, fmt.Errorf("loom/hook: create: %w", err)
	}

	return h, nil
}

// Get retrieves a hook by id.
func (r *Repository) Get(ctx context.Context, hookID id.HookID) (*Hook, error) {
	return r.store.GetHook(ctx, hookID)
}

// GetByToken retrieves the hook holding the given bearer token. This is
// the external callback lookup path.
func (r *Repository) GetByToken(ctx context.Context, token string) (*Hook, error) {
	if token == "" {
		return nil, loom.ErrHookNotFound
	}

	return r.store.GetHookByToken(ctx, token)
}

// ListParams filter and paginate a hook listing.
type ListParams struct {
	// RunID scopes the listing to one run. Optional.
	RunID id.RunID
	// OwnerID, ProjectID and Environment filter by tenancy scope.
	OwnerID     string
	ProjectID   string
	Environment string

	Limit  int
	Cursor string
	Order  cursor.Order
}

// List returns a page of hooks sorted by (created_at, id).
func (r *Repository) List(ctx context.Context, params ListParams) (cursor.Page[*Hook], error) {
	var zero cursor.Page[*Hook]

	w, err := cursor.ParseWindow(params.Limit, params.Cursor, params.Order)
	if err != nil {
		return zero, err
	}

	rows, err := r.store.ListHooks(ctx, ListOpts{
		RunID:       params.RunID,
		OwnerID:     params.OwnerID,
		ProjectID:   params.ProjectID,
		Environment: params.Environment,
		Window:      w,
	})
	if err != nil {
		return zero, err
	}

	return cursor.NewPage(rows, w, func(h *Hook) (string, time.Time) {
		return h.ID.String(), h.CreatedAt
	}), nil
}

// Dispose hard-deletes a hook. The token stops resolving immediately.
func (r *Repository) Dispose(ctx context.Context, hookID id.HookID) error {
	if err := r.store.DeleteHook(ctx, hookID); err != nil {
		return err
	}

	r.logger.Debug("hook disposed", slog.String("hook_id", hookID.String()))

	return nil
}

// generateToken returns a fresh URL-safe bearer token.
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
