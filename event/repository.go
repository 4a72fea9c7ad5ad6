package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/loom"
	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
)

// Option configures the Repository.
type Option func(*Repository)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// Repository appends and lists events over a Store.
type Repository struct {
	store    Store
	payloads *payload.Store
	logger   *slog.Logger
}

// NewRepository creates an event repository over the given store and
// payload tier.
func NewRepository(store Store, payloads *payload.Store, opts ...Option) *Repository {
	r := &Repository{store: store, payloads: payloads, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}

	return r
}

// CreateParams are the fields of a new event.
type CreateParams struct {
	// RunID is the run this event belongs to. Required.
	RunID id.RunID
	// Type tags the kind of fact. Required.
	Type string
	// CorrelationID joins events across runs. Optional.
	CorrelationID string
	// Payload is the optional event body, tiered under
	// runs/{runID}/events/{id}/payload.
	Payload json.RawMessage
}

// Create appends a new event.
func (r *Repository) Create(ctx context.Context, params CreateParams) (*Event, error) {
	if params.RunID.IsNil() {
		return nil, errors.New("loom/event: create: run id required")
	}
	if params.Type == "" {
		return nil, errors.New("loom/event: create: event type required")
	}

	eventID := id.NewEventID()

	var payloadRef payload.Ref
	if params.Payload != nil {
		key := payload.Key("runs", params.RunID.String(), "events", eventID.String(), "payload")
		ref, err := r.payloads.PutRaw(ctx, key, params.Payload)
		if err != nil {
			return nil, fmt.Errorf("loom/event: create: %w", err)
		}
		payloadRef = ref
	}

	evt := &Event{
		ID:            eventID,
		RunID:         params.RunID,
		Type:          params.Type,
		CorrelationID: params.CorrelationID,
		Payload:       payloadRef,
		CreatedAt:     time.Now().UTC(),
	}

	if err := r.store.CreateEvent(ctx, evt); err != nil {
		if delErr := r.payloads.Delete(ctx, payloadRef); delErr != nil {
			r.logger.Warn("failed to clean up payload blob after create failure",
				slog.String("event_id", eventID.String()),
				slog.String("error", delErr.Error()))
		}

		return nil, fmt.Errorf("loom/event: create: %w", err)
	}

	return evt, nil
}

// Get retrieves an event by id.
func (r *Repository) Get(ctx context.Context, eventID id.EventID, mode loom.ResolveMode) (*Event, error) {
	evt, err := r.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if mode == loom.ResolveAll {
		if err := r.resolve(ctx, evt); err != nil {
			return nil, err
		}
	}

	return evt, nil
}

// ListParams filter and paginate an event listing scoped to one run.
type ListParams struct {
	// RunID scopes the listing. Required.
	RunID id.RunID
	// Type filters by event type. Optional.
	Type string

	Limit  int
	Cursor string
	Order  cursor.Order

	Resolve loom.ResolveMode
}

// List returns a page of the run's events sorted by (created_at, id).
func (r *Repository) List(ctx context.Context, params ListParams) (cursor.Page[*Event], error) {
	var zero cursor.Page[*Event]

	if params.RunID.IsNil() {
		return zero, errors.New("loom/event: list: run id required")
	}

	w, err := cursor.ParseWindow(params.Limit, params.Cursor, params.Order)
	if err != nil {
		return zero, err
	}

	rows, err := r.store.ListEvents(ctx, ListOpts{RunID: params.RunID, Type: params.Type, Window: w})
	if err != nil {
		return zero, err
	}

	return r.page(ctx, rows, w, params.Resolve)
}

// ListByCorrelationParams paginate an event listing joined across runs by
// correlation id.
type ListByCorrelationParams struct {
	// CorrelationID is the cross-run join key. Required.
	CorrelationID string
	// Type filters by event type. Optional.
	Type string

	Limit  int
	Cursor string
	Order  cursor.Order

	Resolve loom.ResolveMode
}

// ListByCorrelationID returns a page of events sharing a correlation id,
// regardless of which run they belong to.
func (r *Repository) ListByCorrelationID(ctx context.Context, params ListByCorrelationParams) (cursor.Page[*Event], error) {
	var zero cursor.Page[*Event]

	if params.CorrelationID == "" {
		return zero, errors.New("loom/event: list: correlation id required")
	}

	w, err := cursor.ParseWindow(params.Limit, params.Cursor, params.Order)
	if err != nil {
		return zero, err
	}

	rows, err := r.store.ListEvents(ctx, ListOpts{
		CorrelationID: params.CorrelationID,
		Type:          params.Type,
		Window:        w,
	})
	if err != nil {
		return zero, err
	}

	return r.page(ctx, rows, w, params.Resolve)
}

// page applies the limit+1 protocol and optional payload resolution.
func (r *Repository) page(ctx context.Context, rows []*Event, w cursor.Window, mode loom.ResolveMode) (cursor.Page[*Event], error) {
	page := cursor.NewPage(rows, w, func(e *Event) (string, time.Time) {
		return e.ID.String(), e.CreatedAt
	})

	if mode == loom.ResolveAll {
		g, gctx := errgroup.WithContext(ctx)
		for _, evt := range page.Items {
			evt := evt
			g.Go(func() error { return r.resolve(gctx, evt) })
		}
		if err := g.Wait(); err != nil {
			return cursor.Page[*Event]{}, err
		}
	}

	return page, nil
}

// resolve dereferences the payload field in place.
func (r *Repository) resolve(ctx context.Context, evt *Event) error {
	data, err := r.payloads.Resolve(ctx, evt.Payload)
	if err != nil {
		return fmt.Errorf("loom/event: resolve payload of %s: %w", evt.ID, err)
	}

	evt.PayloadData = data

	return nil
}
