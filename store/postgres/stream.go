package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/loom"
	"github.com/xraph/loom/stream"
)

const streamColumns = `name, closed, size, created_at, updated_at`

// CreateStream inserts a new stream row.
func (s *Store) CreateStream(ctx context.Context, st *stream.Stream) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO streams (name, closed, size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		st.Name, st.Closed, st.Size, toMs(st.CreatedAt), toMs(st.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return loom.ErrStreamExists
		}

		return fmt.Errorf("loom/postgres: create stream: %w", err)
	}

	return nil
}

// GetStream returns a stream by name.
func (s *Store) GetStream(ctx context.Context, name string) (*stream.Stream, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE name = $1`,
		name,
	)

	st, err := scanStream(row)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrStreamNotFound
		}

		return nil, fmt.Errorf("loom/postgres: get stream: %w", err)
	}

	return st, nil
}

// UpdateStream replaces the stream row identified by st.Name.
func (s *Store) UpdateStream(ctx context.Context, st *stream.Stream) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE streams SET closed = $2, size = $3, updated_at = $4
		WHERE name = $1`,
		st.Name, st.Closed, st.Size, toMs(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: update stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrStreamNotFound
	}

	return nil
}

// ListStreams returns streams in keyset order, keyed by (created_at, name).
func (s *Store) ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE 1=1`
	var args []any

	query, args = appendWindow(query, args, opts.Window, "name")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list streams: %w", err)
	}
	defer rows.Close()

	return collectStreams(rows)
}

// DeleteStream removes a stream row by name.
func (s *Store) DeleteStream(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM streams WHERE name = $1`,
		name,
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrStreamNotFound
	}

	return nil
}

// scanStream scans a single stream row in streamColumns order.
func scanStream(row pgx.Row) (*stream.Stream, error) {
	var (
		st                   stream.Stream
		createdAt, updatedAt int64
	)
	err := row.Scan(&st.Name, &st.Closed, &st.Size, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	st.CreatedAt = fromMs(createdAt)
	st.UpdatedAt = fromMs(updatedAt)

	return &st, nil
}

// collectStreams collects all streams from query rows.
func collectStreams(rows pgx.Rows) ([]*stream.Stream, error) {
	var streams []*stream.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("loom/postgres: scan stream row: %w", err)
		}
		streams = append(streams, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loom/postgres: iterate stream rows: %w", err)
	}

	return streams, nil
}
