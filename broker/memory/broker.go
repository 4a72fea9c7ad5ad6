// Package memory provides an in-process queue broker for tests and
// single-process deployments.
//
// Envelopes round-trip through the configured codec on publish and
// dequeue, so deliveries never alias the publisher's memory and codec
// bugs surface in-process. Delayed redeliveries are held back until
// their ready time.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/backoff"
	"github.com/xraph/loom/queue"
)

// pollGranularity bounds how long a blocking dequeue sleeps between
// readiness checks, so delayed entries are picked up close to on time.
const pollGranularity = 50 * time.Millisecond

// entry is one pending envelope on a queue.
type entry struct {
	data    []byte
	readyAt time.Time
}

// Option configures the Broker.
type Option func(*Broker)

// WithCodec sets the envelope codec. Defaults to JSON.
func WithCodec(c queue.Codec) Option {
	return func(b *Broker) { b.codec = c }
}

// WithBackoff sets the default redelivery delay strategy applied when a
// retry is requested without an explicit delay.
func WithBackoff(s backoff.Strategy) Option {
	return func(b *Broker) { b.backoff = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// Broker is an in-memory queue.Broker.
type Broker struct {
	codec   queue.Codec
	backoff backoff.Strategy
	logger  *slog.Logger

	mu       sync.Mutex
	queues   map[string][]*entry
	inflight map[string]*queue.Envelope
	seq      uint64
	closed   bool

	// notify wakes one blocked dequeue when an envelope is published.
	notify chan struct{}
}

var _ queue.Broker = (*Broker)(nil)

// New creates an in-memory broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		codec:    &queue.JSONCodec{},
		backoff:  backoff.DefaultStrategy(),
		logger:   slog.Default(),
		queues:   make(map[string][]*entry),
		inflight: make(map[string]*queue.Envelope),
		notify:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(b)
	}

	return b
}

// Publish makes the envelope available for delivery on its queue.
func (b *Broker) Publish(_ context.Context, env *queue.Envelope) error {
	data, err := b.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("loom/broker/memory: encode: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return loom.ErrBrokerClosed
	}

	b.queues[env.QueueName] = append(b.queues[env.QueueName], &entry{
		data:    data,
		readyAt: time.Now(),
	})
	b.signal()

	return nil
}

// Dequeue returns the next ready delivery from the lexicographically
// first matching queue, waiting up to wait for one to become available.
func (b *Broker) Dequeue(ctx context.Context, queuePrefix string, wait time.Duration) (*queue.Delivery, error) {
	deadline := time.Now().Add(wait)

	for {
		d, err := b.tryDequeue(queuePrefix)
		if err != nil || d != nil {
			return d, err
		}

		remaining := time.Until(deadline)
		if wait <= 0 || remaining <= 0 {
			return nil, nil
		}
		if remaining > pollGranularity {
			remaining = pollGranularity
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		case <-time.After(remaining):
		}
	}
}

func (b *Broker) tryDequeue(queuePrefix string) (*queue.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, loom.ErrBrokerClosed
	}

	now := time.Now()

	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		if strings.HasPrefix(name, queuePrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		entries := b.queues[name]
		for i, e := range entries {
			if e.readyAt.After(now) {
				continue
			}

			env, err := b.codec.Decode(e.data)
			if err != nil {
				// Entry stays queued; a symmetric codec cannot hit this.
				return nil, fmt.Errorf("loom/broker/memory: decode: %w", err)
			}

			b.queues[name] = append(entries[:i], entries[i+1:]...)
			b.seq++
			receipt := strconv.FormatUint(b.seq, 10)
			b.inflight[receipt] = env

			return &queue.Delivery{Envelope: env, Receipt: receipt}, nil
		}
	}

	return nil, nil
}

// Ack settles a delivery as done. Acking an already-settled delivery is
// a no-op.
func (b *Broker) Ack(_ context.Context, d *queue.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return loom.ErrBrokerClosed
	}

	delete(b.inflight, d.Receipt)

	return nil
}

// Retry settles a delivery as failed and re-queues its envelope with a
// bumped attempt count. A delay of zero or less applies the default
// backoff for the current attempt. Retrying an already-settled delivery
// is a no-op.
func (b *Broker) Retry(_ context.Context, d *queue.Delivery, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return loom.ErrBrokerClosed
	}

	if _, ok := b.inflight[d.Receipt]; !ok {
		return nil
	}
	delete(b.inflight, d.Receipt)

	env := *d.Envelope
	env.Metadata.Attempt = d.Envelope.Metadata.Attempt + 1

	if delay <= 0 {
		delay = b.backoff.Delay(d.Envelope.Metadata.Attempt)
	}

	data, err := b.codec.Encode(&env)
	if err != nil {
		return fmt.Errorf("loom/broker/memory: encode: %w", err)
	}

	b.queues[env.QueueName] = append(b.queues[env.QueueName], &entry{
		data:    data,
		readyAt: time.Now().Add(delay),
	})
	b.signal()

	b.logger.Debug("delivery re-queued",
		slog.String("message_id", env.MessageID),
		slog.String("queue", env.QueueName),
		slog.Int("attempt", env.Metadata.Attempt),
		slog.Duration("delay", delay),
	)

	return nil
}

// Close marks the broker closed. Pending and in-flight envelopes are
// discarded.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	return nil
}

// Len returns the number of pending envelopes on a queue, including
// delayed ones. Handy in tests.
func (b *Broker) Len(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.queues[queueName])
}

// signal wakes one blocked dequeue, if any.
func (b *Broker) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
