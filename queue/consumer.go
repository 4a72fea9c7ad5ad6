package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
)

// Info carries delivery bookkeeping into a handler.
type Info struct {
	MessageID id.MessageID
	QueueName string
	// Attempt counts deliveries of this message, starting at 1.
	Attempt int
}

// Handler processes one delivered message payload. Returning nil marks
// the message processed and acknowledges the delivery; returning an
// error wrapping RetryAfterError requests redelivery after a delay; any
// other error requests redelivery per the broker's default policy.
type Handler func(ctx context.Context, payload json.RawMessage, info Info) error

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConcurrency sets the number of concurrent consumer goroutines.
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) { c.concurrency = n }
}

// WithPollInterval sets how long an idle consumer goroutine sleeps
// between dequeue attempts.
func WithPollInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.pollInterval = d }
}

// WithDequeueWait sets how long each dequeue call blocks waiting for a
// delivery before reporting idle.
func WithDequeueWait(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.dequeueWait = d }
}

// WithMiddleware wraps delivery handling with the given middleware,
// outermost first.
func WithMiddleware(mws ...Middleware) ConsumerOption {
	return func(c *Consumer) { c.mw = Chain(mws...) }
}

// WithLimiter gates deliveries through a per-queue rate limiter.
func WithLimiter(l *Limiter) ConsumerOption {
	return func(c *Consumer) { c.limiter = l }
}

// WithConsumerLogger sets a custom logger.
func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

// Consumer polls a broker for deliveries on queues sharing a name prefix
// and runs each through the middleware chain and handler. Every delivery
// ends in exactly one acknowledge or retry.
type Consumer struct {
	store   Store
	broker  Broker
	prefix  string
	handler Handler

	mw           Middleware
	limiter      *Limiter
	concurrency  int
	pollInterval time.Duration
	dequeueWait  time.Duration
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// NewConsumer creates a consumer for queues whose names carry the given
// prefix. An empty prefix matches every queue.
func NewConsumer(store Store, broker Broker, queuePrefix string, handler Handler, opts ...ConsumerOption) *Consumer {
	cfg := loom.DefaultConfig()
	c := &Consumer{
		store:        store,
		broker:       broker,
		prefix:       queuePrefix,
		handler:      handler,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		dequeueWait:  cfg.DequeueWait,
		logger:       slog.Default(),
		stopCh:       make(chan struct{}),
		active:       make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(c)
	}

	return c
}

// Start launches the consumer goroutines. It returns immediately.
func (c *Consumer) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	c.running = true

	c.logger.Info("consumer starting",
		slog.String("queue_prefix", c.prefix),
		slog.Int("concurrency", c.concurrency),
	)

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.dequeueLoop()
	}

	return nil
}

// Stop signals all consumer goroutines to stop and waits for them to
// finish. If the context has a deadline, in-flight handlers are
// cancelled when time runs out.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.logger.Info("consumer stopping", slog.String("queue_prefix", c.prefix))

	close(c.stopCh)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("consumer stopped gracefully")
	case <-ctx.Done():
		c.logger.Warn("consumer shutdown timed out, cancelling in-flight deliveries")
		c.cancelActive()
		c.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each consumer goroutine.
func (c *Consumer) dequeueLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		d, err := c.broker.Dequeue(context.Background(), c.prefix, c.dequeueWait)
		if err != nil {
			c.logger.Error("dequeue error", slog.String("error", err.Error()))
			c.sleep()
			continue
		}

		if d == nil {
			c.sleep()
			continue
		}

		c.process(d)
	}
}

// process runs one delivery end to end and settles it.
func (c *Consumer) process(d *Delivery) {
	bg := context.Background()
	env := d.Envelope

	if !strings.HasPrefix(env.QueueName, c.prefix) {
		c.logger.Error("delivery from unexpected queue",
			slog.String("queue", env.QueueName),
			slog.String("queue_prefix", c.prefix),
		)
		c.requestRetry(bg, d, 0)
		return
	}

	msgID, err := id.ParseMessageID(env.MessageID)
	if err != nil {
		c.logger.Error("delivery with invalid message id",
			slog.String("message_id", env.MessageID),
			slog.String("error", err.Error()),
		)
		c.requestRetry(bg, d, 0)
		return
	}

	if c.limiter != nil {
		if !c.limiter.Acquire(env.QueueName, env.Metadata.DeploymentID) {
			// Rate limited; put the delivery back with a small delay.
			c.requestRetry(bg, d, c.pollInterval)
			c.sleep()
			return
		}
		defer c.limiter.Release(env.QueueName, env.Metadata.DeploymentID)
	}

	ctx, cancel := context.WithCancel(bg)
	c.track(d.Receipt, cancel)

	terminal := func(ctx context.Context) error {
		return c.handler(ctx, env.Message, Info{
			MessageID: msgID,
			QueueName: env.QueueName,
			Attempt:   env.Metadata.Attempt,
		})
	}

	var handlerErr error
	if c.mw != nil {
		handlerErr = c.mw(ctx, d, terminal)
	} else {
		handlerErr = terminal(ctx)
	}

	c.untrack(d.Receipt)
	cancel()

	c.settle(bg, d, msgID, handlerErr)
}

// settle acknowledges or retries the delivery based on the handler
// outcome. No branch drops the delivery.
func (c *Consumer) settle(ctx context.Context, d *Delivery, msgID id.MessageID, handlerErr error) {
	env := d.Envelope

	var ra *RetryAfterError
	switch {
	case handlerErr == nil:
		if err := c.markProcessed(ctx, msgID); err != nil {
			c.logger.Error("failed to mark message processed",
				slog.String("message_id", env.MessageID),
				slog.String("error", err.Error()),
			)
			c.requestRetry(ctx, d, 0)
			return
		}
		if err := c.broker.Ack(ctx, d); err != nil {
			c.logger.Error("ack failed",
				slog.String("message_id", env.MessageID),
				slog.String("error", err.Error()),
			)
		}

	case errors.As(handlerErr, &ra):
		c.logger.Debug("handler requested retry",
			slog.String("message_id", env.MessageID),
			slog.Duration("delay", ra.Delay),
		)
		c.requestRetry(ctx, d, ra.Delay)

	default:
		c.logger.Debug("handler failed",
			slog.String("message_id", env.MessageID),
			slog.String("queue", env.QueueName),
			slog.Int("attempt", env.Metadata.Attempt),
			slog.String("error", handlerErr.Error()),
		)
		c.requestRetry(ctx, d, 0)
	}
}

// markProcessed stamps the idempotency record. An envelope without a
// record (produced outside the dispatcher) has nothing to stamp.
func (c *Consumer) markProcessed(ctx context.Context, msgID id.MessageID) error {
	err := c.store.MarkProcessed(ctx, msgID, time.Now().UTC())
	if errors.Is(err, loom.ErrMessageNotFound) {
		return nil
	}

	return err
}

func (c *Consumer) requestRetry(ctx context.Context, d *Delivery, delay time.Duration) {
	if err := c.broker.Retry(ctx, d, delay); err != nil {
		c.logger.Error("failed to retry delivery",
			slog.String("message_id", d.Envelope.MessageID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) sleep() {
	select {
	case <-time.After(c.pollInterval):
	case <-c.stopCh:
	}
}

func (c *Consumer) track(receipt string, cancel context.CancelFunc) {
	c.activeMu.Lock()
	c.active[receipt] = cancel
	c.activeMu.Unlock()
}

func (c *Consumer) untrack(receipt string) {
	c.activeMu.Lock()
	delete(c.active, receipt)
	c.activeMu.Unlock()
}

func (c *Consumer) cancelActive() {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	for receipt, cancel := range c.active {
		c.logger.Warn("cancelling in-flight delivery", slog.String("receipt", receipt))
		cancel()
	}
}
