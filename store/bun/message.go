package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/queue"
)

// InsertMessage inserts a new message row. The partial unique index on
// (queue_name, idempotency_key) arbitrates duplicates in the same
// statement, so concurrent inserts of the same key race safely.
func (s *Store) InsertMessage(ctx context.Context, msg *queue.Message) error {
	m := toMessageModel(msg)
	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("loom/bun: insert message: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return loom.ErrMessageExists
	}
	return nil
}

// GetMessage returns a message by id.
func (s *Store) GetMessage(ctx context.Context, messageID id.MessageID) (*queue.Message, error) {
	m := new(messageModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", messageID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrMessageNotFound
		}
		return nil, fmt.Errorf("loom/bun: get message: %w", err)
	}
	return fromMessageModel(m)
}

// GetMessageByKey returns the message holding the given idempotency key
// within a queue. Keyless rows are stored with NULL keys and can never be
// looked up this way.
func (s *Store) GetMessageByKey(ctx context.Context, queueName, idempotencyKey string) (*queue.Message, error) {
	if idempotencyKey == "" {
		return nil, loom.ErrMessageNotFound
	}

	m := new(messageModel)
	err := s.db.NewSelect().Model(m).
		Where("queue_name = ?", queueName).
		Where("idempotency_key = ?", idempotencyKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrMessageNotFound
		}
		return nil, fmt.Errorf("loom/bun: get message by key: %w", err)
	}
	return fromMessageModel(m)
}

// MarkProcessed stamps processed_at set-once. Re-marking keeps the original
// timestamp and leaves updated_at untouched.
func (s *Store) MarkProcessed(ctx context.Context, messageID id.MessageID, at time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("queue_messages").
		Set("updated_at = CASE WHEN processed_at IS NULL THEN ? ELSE updated_at END", time.Now().UnixMilli()).
		Set("processed_at = COALESCE(processed_at, ?)", at.UnixMilli()).
		Where("id = ?", messageID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("loom/bun: mark processed: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return loom.ErrMessageNotFound
	}
	return nil
}

// ListMessages returns messages matching opts in keyset order.
func (s *Store) ListMessages(ctx context.Context, opts queue.ListOpts) ([]*queue.Message, error) {
	var models []messageModel
	q := s.db.NewSelect().Model(&models)

	if opts.QueueName != "" {
		q = q.Where("queue_name = ?", opts.QueueName)
	}
	if opts.Processed != nil {
		if *opts.Processed {
			q = q.Where("processed_at IS NOT NULL")
		} else {
			q = q.Where("processed_at IS NULL")
		}
	}

	q = applyWindow(q, opts.Window, "id")

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: list messages: %w", err)
	}

	msgs := make([]*queue.Message, 0, len(models))
	for i := range models {
		msg, convErr := fromMessageModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("loom/bun: list messages convert: %w", convErr)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
