package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/loom/backoff"
	membroker "github.com/xraph/loom/broker/memory"
	"github.com/xraph/loom/queue"
	memstore "github.com/xraph/loom/store/memory"
)

// fastOpts keep test consumers responsive without busy-waiting.
func fastOpts(extra ...queue.ConsumerOption) []queue.ConsumerOption {
	opts := []queue.ConsumerOption{
		queue.WithConcurrency(2),
		queue.WithPollInterval(5 * time.Millisecond),
		queue.WithDequeueWait(20 * time.Millisecond),
	}

	return append(opts, extra...)
}

// waitFor polls flag until it is set or the deadline passes.
func waitFor(t *testing.T, flag *atomic.Bool, what string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !flag.Load() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func stopConsumer(t *testing.T, c *queue.Consumer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestConsumer_ProcessesDelivery(t *testing.T) {
	st := memstore.New()
	broker := membroker.New()
	d := queue.NewDispatcher(st, broker)

	var done atomic.Bool
	var gotPayload string
	var gotInfo queue.Info
	handler := func(_ context.Context, payload json.RawMessage, info queue.Info) error {
		gotPayload = string(payload)
		gotInfo = info
		done.Store(true)
		return nil
	}

	c := queue.NewConsumer(st, broker, "wf.", handler, fastOpts()...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopConsumer(t, c)

	msg, err := d.Enqueue(context.Background(), queue.EnqueueParams{
		QueueName: "wf.orders",
		Payload:   json.RawMessage(`{"n":1}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, &done, "delivery")

	if gotPayload != `{"n":1}` {
		t.Errorf("payload = %q, want %q", gotPayload, `{"n":1}`)
	}
	if gotInfo.MessageID != msg.ID {
		t.Errorf("MessageID = %s, want %s", gotInfo.MessageID, msg.ID)
	}
	if gotInfo.QueueName != "wf.orders" {
		t.Errorf("QueueName = %q, want %q", gotInfo.QueueName, "wf.orders")
	}
	if gotInfo.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", gotInfo.Attempt)
	}

	// Settlement stamps the idempotency record.
	deadline := time.After(5 * time.Second)
	for {
		got, getErr := d.Get(context.Background(), msg.ID)
		if getErr != nil {
			t.Fatalf("Get: %v", getErr)
		}
		if got.Processed() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("message never marked processed")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestConsumer_RetriesOnHandlerError(t *testing.T) {
	st := memstore.New()
	broker := membroker.New(membroker.WithBackoff(backoff.NewConstant(5 * time.Millisecond)))
	d := queue.NewDispatcher(st, broker)

	var mu sync.Mutex
	var attempts []int
	var done atomic.Bool
	handler := func(_ context.Context, _ json.RawMessage, info queue.Info) error {
		mu.Lock()
		attempts = append(attempts, info.Attempt)
		n := len(attempts)
		mu.Unlock()

		if n == 1 {
			return errors.New("transient failure")
		}
		done.Store(true)
		return nil
	}

	c := queue.NewConsumer(st, broker, "wf.", handler, fastOpts()...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopConsumer(t, c)

	if _, err := d.Enqueue(context.Background(), queue.EnqueueParams{QueueName: "wf.flaky"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, &done, "retry to succeed")

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 {
		t.Fatalf("handler ran %d times, want 2", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("attempt sequence = %v, want [1 2]", attempts)
	}
}

func TestConsumer_RetryAfterDelaysRedelivery(t *testing.T) {
	st := memstore.New()
	broker := membroker.New()
	d := queue.NewDispatcher(st, broker)

	const delay = 75 * time.Millisecond

	var mu sync.Mutex
	var times []time.Time
	var done atomic.Bool
	handler := func(_ context.Context, _ json.RawMessage, _ queue.Info) error {
		mu.Lock()
		times = append(times, time.Now())
		n := len(times)
		mu.Unlock()

		if n == 1 {
			return queue.RetryAfter(delay)
		}
		done.Store(true)
		return nil
	}

	c := queue.NewConsumer(st, broker, "wf.", handler, fastOpts()...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopConsumer(t, c)

	if _, err := d.Enqueue(context.Background(), queue.EnqueueParams{QueueName: "wf.later"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, &done, "delayed redelivery")

	mu.Lock()
	defer mu.Unlock()
	if got := times[1].Sub(times[0]); got < delay {
		t.Errorf("redelivered after %v, want at least %v", got, delay)
	}
}

func TestConsumer_StopWaitsForInflight(t *testing.T) {
	st := memstore.New()
	broker := membroker.New()
	d := queue.NewDispatcher(st, broker)

	var started, finished atomic.Bool
	handler := func(_ context.Context, _ json.RawMessage, _ queue.Info) error {
		started.Store(true)
		time.Sleep(80 * time.Millisecond)
		finished.Store(true)
		return nil
	}

	c := queue.NewConsumer(st, broker, "wf.", handler, fastOpts()...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := d.Enqueue(context.Background(), queue.EnqueueParams{QueueName: "wf.slow"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, &started, "handler to start")

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Error("Stop returned before the in-flight handler finished")
	}
}

func TestConsumer_StopDeadlineCancelsInflight(t *testing.T) {
	st := memstore.New()
	broker := membroker.New()
	d := queue.NewDispatcher(st, broker)

	var started atomic.Bool
	var cancelled atomic.Bool
	handler := func(ctx context.Context, _ json.RawMessage, _ queue.Info) error {
		started.Store(true)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}

	c := queue.NewConsumer(st, broker, "wf.", handler, fastOpts()...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := d.Enqueue(context.Background(), queue.EnqueueParams{QueueName: "wf.stuck"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, &started, "handler to start")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !cancelled.Load() {
		t.Error("in-flight handler was not cancelled on shutdown deadline")
	}
}

func TestConsumer_StartStopIdempotent(t *testing.T) {
	st := memstore.New()
	broker := membroker.New()
	c := queue.NewConsumer(st, broker, "wf.", func(context.Context, json.RawMessage, queue.Info) error {
		return nil
	}, fastOpts()...)

	// Stop before Start is a no-op.
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	stopConsumer(t, c)
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
