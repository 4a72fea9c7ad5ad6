package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/loom"
	"github.com/xraph/loom/event"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
)

const eventColumns = `id, run_id, event_type, correlation_id,
	payload_type, payload_data, created_at`

// CreateEvent appends a new event row.
func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	payloadType, payloadData := evt.Payload.Columns()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_events (
			id, run_id, event_type, correlation_id,
			payload_type, payload_data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		evt.ID.String(), evt.RunID.String(), evt.Type, evt.CorrelationID,
		payloadType, payloadData, toMs(evt.CreatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("loom/postgres: create event: duplicate id %s", evt.ID)
		}

		return fmt.Errorf("loom/postgres: create event: %w", err)
	}

	return nil
}

// GetEvent retrieves an event by id.
func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM workflow_events WHERE id = $1`,
		eventID.String(),
	)

	evt, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrEventNotFound
		}

		return nil, fmt.Errorf("loom/postgres: get event: %w", err)
	}

	return evt, nil
}

// ListEvents returns events matching opts in keyset order.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM workflow_events WHERE 1=1`
	var args []any

	if !opts.RunID.IsNil() {
		args = append(args, opts.RunID.String())
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
	}
	if opts.CorrelationID != "" {
		args = append(args, opts.CorrelationID)
		query += fmt.Sprintf(" AND correlation_id = $%d", len(args))
	}
	if opts.Type != "" {
		args = append(args, opts.Type)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}

	query, args = appendWindow(query, args, opts.Window, "id")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// scanEvent scans a single event row in eventColumns order.
func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		evt                      event.Event
		payloadType, payloadData string
		createdAt                int64
	)
	err := row.Scan(
		&evt.ID, &evt.RunID, &evt.Type, &evt.CorrelationID,
		&payloadType, &payloadData, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	evt.CreatedAt = fromMs(createdAt)

	p, err := payload.FromColumns(payloadType, payloadData)
	if err != nil {
		return nil, fmt.Errorf("payload reference: %w", err)
	}
	evt.Payload = p

	return &evt, nil
}

// collectEvents collects all events from query rows.
func collectEvents(rows pgx.Rows) ([]*event.Event, error) {
	var events []*event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("loom/postgres: scan event row: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loom/postgres: iterate event rows: %w", err)
	}

	return events, nil
}
