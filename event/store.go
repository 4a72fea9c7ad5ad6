package event

import (
	"context"

	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/id"
)

// ListOpts filters and paginates event list queries at the store layer.
// Exactly one of RunID or CorrelationID scopes the listing.
type ListOpts struct {
	// RunID scopes the listing to one run.
	RunID id.RunID
	// CorrelationID scopes the listing across runs instead.
	CorrelationID string
	// Type filters by event type. Empty means all types.
	Type string

	Window cursor.Window
}

// Store defines the persistence contract for events. There is no update
// or single delete: events are append-only and vanish only with their run.
type Store interface {
	// CreateEvent appends a new event.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent retrieves an event by id, failing with
	// loom.ErrEventNotFound.
	GetEvent(ctx context.Context, eventID id.EventID) (*Event, error)

	// ListEvents returns events matching opts in keyset order.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}
