// Package redis implements queue.Broker on Redis Sorted Sets.
//
// Each queue is a Sorted Set scored by ready time in epoch milliseconds.
// Dequeued envelopes move to a per-queue processing set scored by their
// visibility deadline; deliveries not settled before the deadline are
// re-queued, giving at-least-once delivery across consumer crashes.
//
// The caller owns the Redis client lifecycle; Close marks the broker
// closed without closing the client.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/loom"
	"github.com/xraph/loom/backoff"
	"github.com/xraph/loom/queue"
)

// Redis key naming. All keys are prefixed with "loom:" to avoid
// collisions.
const keyPrefix = "loom:"

// queuesKey is the Set tracking all queue names for enumeration.
const queuesKey = keyPrefix + "queues"

// queueKey returns the pending Sorted Set for a queue: loom:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// processingKey returns the in-flight Sorted Set for a queue:
// loom:queue:{name}:processing
func processingKey(name string) string { return keyPrefix + "queue:" + name + ":processing" }

// promoteBatch bounds how many expired in-flight envelopes one dequeue
// call re-queues per queue.
const promoteBatch = 16

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

// WithVisibilityTimeout sets how long a dequeued envelope stays
// invisible before an unsettled delivery is re-queued. Defaults to 5m.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(b *Broker) { b.visibility = d }
}

// WithPollInterval sets how often a blocking dequeue re-checks Redis.
// Defaults to 100ms.
func WithPollInterval(d time.Duration) Option {
	return func(b *Broker) { b.pollInterval = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// Broker is a Redis-backed queue.Broker.
type Broker struct {
	client       redis.Cmdable
	codec        queue.Codec
	backoff      backoff.Strategy
	visibility   time.Duration
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ queue.Broker = (*Broker)(nil)

// New creates a Redis-backed broker. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Broker {
	b := &Broker{
		client:       client,
		codec:        &queue.JSONCodec{},
		backoff:      backoff.DefaultStrategy(),
		visibility:   5 * time.Minute,
		pollInterval: 100 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}

	return b
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}

// Publish makes the envelope available for delivery on its queue.
func (b *Broker) Publish(ctx context.Context, env *queue.Envelope) error {
	if b.isClosed() {
		return loom.ErrBrokerClosed
	}

	data, err := b.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("loom/broker/redis: encode: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, queueKey(env.QueueName), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: string(data),
	})
	pipe.SAdd(ctx, queuesKey, env.QueueName)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/broker/redis: publish: %w", err)
	}

	return nil
}

// Dequeue claims the next ready envelope from the lexicographically
// first matching queue, waiting up to wait for one to become available.
func (b *Broker) Dequeue(ctx context.Context, queuePrefix string, wait time.Duration) (*queue.Delivery, error) {
	deadline := time.Now().Add(wait)

	for {
		if b.isClosed() {
			return nil, loom.ErrBrokerClosed
		}

		d, err := b.tryDequeue(ctx, queuePrefix)
		if err != nil || d != nil {
			return d, err
		}

		if wait <= 0 || !time.Now().Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}

func (b *Broker) tryDequeue(ctx context.Context, queuePrefix string) (*queue.Delivery, error) {
	names, err := b.client.SMembers(ctx, queuesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/broker/redis: list queues: %w", err)
	}

	matching := names[:0]
	for _, name := range names {
		if strings.HasPrefix(name, queuePrefix) {
			matching = append(matching, name)
		}
	}
	sort.Strings(matching)

	now := time.Now()

	for _, name := range matching {
		b.promoteExpired(ctx, name, now)

		d, err := b.claim(ctx, name, now)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}

	return nil, nil
}

// claim pops one ready envelope from a queue's pending set into its
// processing set. The ZRem decides races between competing consumers:
// only the remover that gets 1 owns the envelope.
func (b *Broker) claim(ctx context.Context, name string, now time.Time) (*queue.Delivery, error) {
	members, err := b.client.ZRangeByScore(ctx, queueKey(name), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/broker/redis: dequeue range: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	member := members[0]
	removed, err := b.client.ZRem(ctx, queueKey(name), member).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/broker/redis: dequeue claim: %w", err)
	}
	if removed == 0 {
		// Another consumer won the claim.
		return nil, nil
	}

	env, err := b.codec.Decode([]byte(member))
	if err != nil {
		// Undecodable envelope: park it far in the future instead of
		// dropping it or wedging the queue head.
		b.logger.Error("failed to decode dequeued envelope, parking it",
			slog.String("queue", name),
			slog.String("error", err.Error()),
		)
		b.client.ZAdd(ctx, queueKey(name), redis.Z{
			Score:  float64(now.Add(b.visibility).UnixMilli()),
			Member: member,
		})

		return nil, nil
	}

	err = b.client.ZAdd(ctx, processingKey(name), redis.Z{
		Score:  float64(now.Add(b.visibility).UnixMilli()),
		Member: member,
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("loom/broker/redis: dequeue track: %w", err)
	}

	return &queue.Delivery{Envelope: env, Receipt: member}, nil
}

// promoteExpired re-queues in-flight envelopes whose visibility deadline
// has passed (the consumer crashed or stalled).
func (b *Broker) promoteExpired(ctx context.Context, name string, now time.Time) {
	members, err := b.client.ZRangeByScore(ctx, processingKey(name), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		b.logger.Error("failed to scan expired deliveries",
			slog.String("queue", name),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, member := range members {
		removed, remErr := b.client.ZRem(ctx, processingKey(name), member).Result()
		if remErr != nil || removed == 0 {
			continue
		}
		if addErr := b.client.ZAdd(ctx, queueKey(name), redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: member,
		}).Err(); addErr != nil {
			b.logger.Error("failed to re-queue expired delivery",
				slog.String("queue", name),
				slog.String("error", addErr.Error()),
			)
			continue
		}

		b.logger.Warn("delivery visibility expired, re-queued", slog.String("queue", name))
	}
}

// Ack settles a delivery as done. Acking an already-settled delivery is
// a no-op.
func (b *Broker) Ack(ctx context.Context, d *queue.Delivery) error {
	if b.isClosed() {
		return loom.ErrBrokerClosed
	}

	err := b.client.ZRem(ctx, processingKey(d.Envelope.QueueName), d.Receipt).Err()
	if err != nil {
		return fmt.Errorf("loom/broker/redis: ack: %w", err)
	}

	return nil
}

// Retry settles a delivery as failed and re-queues its envelope with a
// bumped attempt count. A delay of zero or less applies the default
// backoff for the current attempt. Retrying a delivery that was already
// settled (or whose visibility expired) is a no-op.
func (b *Broker) Retry(ctx context.Context, d *queue.Delivery, delay time.Duration) error {
	if b.isClosed() {
		return loom.ErrBrokerClosed
	}

	name := d.Envelope.QueueName

	removed, err := b.client.ZRem(ctx, processingKey(name), d.Receipt).Result()
	if err != nil {
		return fmt.Errorf("loom/broker/redis: retry untrack: %w", err)
	}
	if removed == 0 {
		return nil
	}

	env := *d.Envelope
	env.Metadata.Attempt = d.Envelope.Metadata.Attempt + 1

	if delay <= 0 {
		delay = b.backoff.Delay(d.Envelope.Metadata.Attempt)
	}

	data, err := b.codec.Encode(&env)
	if err != nil {
		return fmt.Errorf("loom/broker/redis: encode: %w", err)
	}

	err = b.client.ZAdd(ctx, queueKey(name), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("loom/broker/redis: retry re-queue: %w", err)
	}

	b.logger.Debug("delivery re-queued",
		slog.String("message_id", env.MessageID),
		slog.String("queue", name),
		slog.Int("attempt", env.Metadata.Attempt),
		slog.Duration("delay", delay),
	)

	return nil
}

// Close marks the broker closed. The Redis client is caller-owned and
// stays open.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	return nil
}

// Ping verifies the Redis connection is alive.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
