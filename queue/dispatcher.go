package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/scope"
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets a custom logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher enqueues messages exactly once per idempotency key:
// the idempotency record is persisted first, then the envelope is handed
// to the broker.
type Dispatcher struct {
	store  Store
	broker Broker
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given store and broker.
func NewDispatcher(store Store, broker Broker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{store: store, broker: broker, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}

	return d
}

// EnqueueParams are the fields of a new message.
type EnqueueParams struct {
	// QueueName is the destination queue. Required.
	QueueName string
	// Payload is the message body.
	Payload json.RawMessage
	// IdempotencyKey deduplicates enqueues within the queue. Optional.
	IdempotencyKey string
	// DeploymentID pins the message to a workflow deployment. Optional.
	DeploymentID string
}

// Enqueue persists a message and publishes its envelope. If an
// idempotency key is supplied and a message already exists for
// (queue name, key), the existing message is returned without creating
// a new record or re-delivering. A lost insert race is recovered by
// re-reading the winner, never surfaced.
func (d *Dispatcher) Enqueue(ctx context.Context, params EnqueueParams) (*Message, error) {
	if params.QueueName == "" {
		return nil, errors.New("loom/queue: enqueue: queue name required")
	}

	if params.IdempotencyKey != "" {
		existing, err := d.store.GetMessageByKey(ctx, params.QueueName, params.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, loom.ErrMessageNotFound) {
			return nil, fmt.Errorf("loom/queue: enqueue: %w", err)
		}
	}

	msg := &Message{
		Entity:         loom.NewEntity(),
		ID:             id.NewMessageID(),
		QueueName:      params.QueueName,
		IdempotencyKey: params.IdempotencyKey,
		Payload:        params.Payload,
		DeploymentID:   params.DeploymentID,
	}

	if err := d.store.InsertMessage(ctx, msg); err != nil {
		// Two enqueues raced on the same key; the winner's row is
		// authoritative.
		if errors.Is(err, loom.ErrMessageExists) && params.IdempotencyKey != "" {
			return d.store.GetMessageByKey(ctx, params.QueueName, params.IdempotencyKey)
		}

		return nil, fmt.Errorf("loom/queue: enqueue: %w", err)
	}

	owner, project, environment := scope.Capture(ctx)
	env := &Envelope{
		MessageID: msg.ID.String(),
		QueueName: msg.QueueName,
		Message:   msg.Payload,
		Metadata: Metadata{
			DeploymentID:   msg.DeploymentID,
			IdempotencyKey: msg.IdempotencyKey,
			Attempt:        1,
			OwnerID:        owner,
			ProjectID:      project,
			Environment:    environment,
		},
	}

	if err := d.broker.Publish(ctx, env); err != nil {
		return nil, fmt.Errorf("loom/queue: publish %s: %w", msg.ID, err)
	}

	d.logger.Debug("message enqueued",
		slog.String("message_id", msg.ID.String()),
		slog.String("queue", msg.QueueName))

	return msg, nil
}

// Get retrieves a message record by id.
func (d *Dispatcher) Get(ctx context.Context, messageID id.MessageID) (*Message, error) {
	return d.store.GetMessage(ctx, messageID)
}

// ListParams filter and paginate a message listing.
type ListParams struct {
	// QueueName scopes the listing to one queue. Optional.
	QueueName string
	// Processed filters by processed state. Nil matches everything.
	Processed *bool

	Limit  int
	Cursor string
	Order  cursor.Order
}

// List returns a page of message records sorted by (created_at, id).
// Intended for inspection and operational tooling.
func (d *Dispatcher) List(ctx context.Context, params ListParams) (cursor.Page[*Message], error) {
	var zero cursor.Page[*Message]

	w, err := cursor.ParseWindow(params.Limit, params.Cursor, params.Order)
	if err != nil {
		return zero, err
	}

	rows, err := d.store.ListMessages(ctx, ListOpts{
		QueueName: params.QueueName,
		Processed: params.Processed,
		Window:    w,
	})
	if err != nil {
		return zero, err
	}

	return cursor.NewPage(rows, w, func(m *Message) (string, time.Time) {
		return m.ID.String(), m.CreatedAt
	}), nil
}
