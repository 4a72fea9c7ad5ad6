package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/id"
)

// Message is the persisted idempotency record of one enqueued message.
// The row, not the broker, is the source of truth for whether a message
// exists and whether it has been processed.
type Message struct {
	loom.Entity

	ID        id.MessageID `json:"id"`
	QueueName string       `json:"queueName"`

	// IdempotencyKey deduplicates enqueues within a queue. Empty means
	// no deduplication. Unique per (QueueName, IdempotencyKey).
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	// Payload is the message body as handed to the broker.
	Payload json.RawMessage `json:"payload,omitempty"`

	// DeploymentID pins the message to a workflow deployment. Optional.
	DeploymentID string `json:"deploymentId,omitempty"`

	// ProcessedAt is set once, when a consumer first completes the
	// message. Nil until then.
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// Processed reports whether a consumer has completed this message.
func (m *Message) Processed() bool { return m.ProcessedAt != nil }

// ListOpts filter a message listing at the storage layer.
type ListOpts struct {
	// QueueName scopes the listing to one queue. Optional.
	QueueName string
	// Processed filters by processed state. Nil matches everything.
	Processed *bool

	Window cursor.Window
}

// Store is the persistence interface for message idempotency records.
// Implementations live in the store backends.
type Store interface {
	// InsertMessage inserts a new message row. The insert is atomic:
	// a duplicate (QueueName, IdempotencyKey) pair or duplicate id
	// returns loom.ErrMessageExists.
	InsertMessage(ctx context.Context, m *Message) error

	// GetMessage returns a message by id, or loom.ErrMessageNotFound.
	GetMessage(ctx context.Context, messageID id.MessageID) (*Message, error)

	// GetMessageByKey returns the message holding the given idempotency
	// key within a queue, or loom.ErrMessageNotFound.
	GetMessageByKey(ctx context.Context, queueName, idempotencyKey string) (*Message, error)

	// MarkProcessed stamps ProcessedAt if it is not already set. Marking
	// an already-processed message keeps the original timestamp. Missing
	// id returns loom.ErrMessageNotFound.
	MarkProcessed(ctx context.Context, messageID id.MessageID, at time.Time) error

	// ListMessages returns messages matching opts sorted by
	// (created_at, id) in the window's order, fetching up to
	// Window.FetchLimit() rows.
	ListMessages(ctx context.Context, opts ListOpts) ([]*Message, error)
}
