package queue

import (
	"context"
	"time"
)

// Delivery is one dequeued envelope plus the broker's receipt for
// settling it. Every delivery must end in exactly one Ack or Retry.
type Delivery struct {
	Envelope *Envelope

	// Receipt is the broker-assigned settlement token. Opaque to
	// consumers.
	Receipt string
}

// Broker transports envelopes between the dispatcher and consumers.
// Implementations live under broker/.
type Broker interface {
	// Publish makes the envelope available for delivery on its queue.
	Publish(ctx context.Context, env *Envelope) error

	// Dequeue returns the next delivery from any queue whose name
	// carries the given prefix, waiting up to wait for one to become
	// available. An idle queue returns (nil, nil).
	Dequeue(ctx context.Context, queuePrefix string, wait time.Duration) (*Delivery, error)

	// Ack settles a delivery as done. The envelope will not be
	// delivered again.
	Ack(ctx context.Context, d *Delivery) error

	// Retry settles a delivery as failed and schedules redelivery after
	// the given delay, bumping the envelope's attempt count. A delay of
	// zero or less applies the broker's default backoff.
	Retry(ctx context.Context, d *Delivery, delay time.Duration) error

	// Close releases broker resources. In-flight deliveries are not
	// settled.
	Close() error
}
