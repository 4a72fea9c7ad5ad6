package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/loom"
	"github.com/xraph/loom/stream"
)

// CreateStream inserts a new stream row.
func (s *Store) CreateStream(ctx context.Context, st *stream.Stream) error {
	m := toStreamModel(st)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return loom.ErrStreamExists
		}
		return fmt.Errorf("loom/bun: create stream: %w", err)
	}
	return nil
}

// GetStream returns a stream by name.
func (s *Store) GetStream(ctx context.Context, name string) (*stream.Stream, error) {
	m := new(streamModel)
	err := s.db.NewSelect().Model(m).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrStreamNotFound
		}
		return nil, fmt.Errorf("loom/bun: get stream: %w", err)
	}
	return fromStreamModel(m), nil
}

// UpdateStream replaces the stream row identified by st.Name.
func (s *Store) UpdateStream(ctx context.Context, st *stream.Stream) error {
	m := toStreamModel(st)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("loom/bun: update stream: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return loom.ErrStreamNotFound
	}
	return nil
}

// ListStreams returns streams in keyset order, keyed by (created_at, name).
func (s *Store) ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	var models []streamModel
	q := s.db.NewSelect().Model(&models)

	q = applyWindow(q, opts.Window, "name")

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: list streams: %w", err)
	}

	streams := make([]*stream.Stream, 0, len(models))
	for i := range models {
		streams = append(streams, fromStreamModel(&models[i]))
	}
	return streams, nil
}

// DeleteStream removes a stream row by name.
func (s *Store) DeleteStream(ctx context.Context, name string) error {
	res, err := s.db.NewDelete().
		TableExpr("streams").
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("loom/bun: delete stream: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return loom.ErrStreamNotFound
	}
	return nil
}
