package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/queue"
)

const messageColumns = `id, queue_name, COALESCE(idempotency_key, ''), payload,
	deployment_id, processed_at, created_at, updated_at`

// InsertMessage inserts a new message row. The partial unique index on
// (queue_name, idempotency_key) arbitrates duplicates in the same
// statement, so concurrent inserts of the same key race safely.
func (s *Store) InsertMessage(ctx context.Context, m *queue.Message) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO queue_messages (
			id, queue_name, idempotency_key, payload,
			deployment_id, processed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		m.ID.String(), m.QueueName, nullIfEmpty(m.IdempotencyKey), string(m.Payload),
		m.DeploymentID, toMsPtr(m.ProcessedAt), toMs(m.CreatedAt), toMs(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: insert message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrMessageExists
	}

	return nil
}

// GetMessage returns a message by id.
func (s *Store) GetMessage(ctx context.Context, messageID id.MessageID) (*queue.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM queue_messages WHERE id = $1`,
		messageID.String(),
	)

	m, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrMessageNotFound
		}

		return nil, fmt.Errorf("loom/postgres: get message: %w", err)
	}

	return m, nil
}

// GetMessageByKey returns the message holding the given idempotency key
// within a queue. Keyless rows are stored with NULL keys and can never be
// looked up this way.
func (s *Store) GetMessageByKey(ctx context.Context, queueName, idempotencyKey string) (*queue.Message, error) {
	if idempotencyKey == "" {
		return nil, loom.ErrMessageNotFound
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM queue_messages
		WHERE queue_name = $1 AND idempotency_key = $2`,
		queueName, idempotencyKey,
	)

	m, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrMessageNotFound
		}

		return nil, fmt.Errorf("loom/postgres: get message by key: %w", err)
	}

	return m, nil
}

// MarkProcessed stamps processed_at set-once. Re-marking keeps the original
// timestamp and leaves updated_at untouched.
func (s *Store) MarkProcessed(ctx context.Context, messageID id.MessageID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_messages
		SET updated_at = CASE WHEN processed_at IS NULL THEN $3 ELSE updated_at END,
		    processed_at = COALESCE(processed_at, $2)
		WHERE id = $1`,
		messageID.String(), at.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrMessageNotFound
	}

	return nil
}

// ListMessages returns messages matching opts in keyset order.
func (s *Store) ListMessages(ctx context.Context, opts queue.ListOpts) ([]*queue.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM queue_messages WHERE 1=1`
	var args []any

	if opts.QueueName != "" {
		args = append(args, opts.QueueName)
		query += fmt.Sprintf(" AND queue_name = $%d", len(args))
	}
	if opts.Processed != nil {
		if *opts.Processed {
			query += " AND processed_at IS NOT NULL"
		} else {
			query += " AND processed_at IS NULL"
		}
	}

	query, args = appendWindow(query, args, opts.Window, "id")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// scanMessage scans a single message row in messageColumns order.
func scanMessage(row pgx.Row) (*queue.Message, error) {
	var (
		m                    queue.Message
		payload              string
		processedAt          *int64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&m.ID, &m.QueueName, &m.IdempotencyKey, &payload,
		&m.DeploymentID, &processedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload != "" {
		m.Payload = json.RawMessage(payload)
	}
	m.ProcessedAt = fromMsPtr(processedAt)
	m.CreatedAt = fromMs(createdAt)
	m.UpdatedAt = fromMs(updatedAt)

	return &m, nil
}

// collectMessages collects all messages from query rows.
func collectMessages(rows pgx.Rows) ([]*queue.Message, error) {
	var msgs []*queue.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("loom/postgres: scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loom/postgres: iterate message rows: %w", err)
	}

	return msgs, nil
}
