package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/loom"
	"github.com/xraph/loom/event"
	"github.com/xraph/loom/id"
)

// CreateEvent appends a new event row.
func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("loom/bun: create event: duplicate id %s", evt.ID)
		}
		return fmt.Errorf("loom/bun: create event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by id.
func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	m := new(eventModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", eventID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrEventNotFound
		}
		return nil, fmt.Errorf("loom/bun: get event: %w", err)
	}
	return fromEventModel(m)
}

// ListEvents returns events matching opts in keyset order.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.db.NewSelect().Model(&models)

	if !opts.RunID.IsNil() {
		q = q.Where("run_id = ?", opts.RunID.String())
	}
	if opts.CorrelationID != "" {
		q = q.Where("correlation_id = ?", opts.CorrelationID)
	}
	if opts.Type != "" {
		q = q.Where("event_type = ?", opts.Type)
	}

	q = applyWindow(q, opts.Window, "id")

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: list events: %w", err)
	}

	events := make([]*event.Event, 0, len(models))
	for i := range models {
		evt, convErr := fromEventModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("loom/bun: list events convert: %w", convErr)
		}
		events = append(events, evt)
	}
	return events, nil
}
