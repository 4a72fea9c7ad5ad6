package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/backoff"
	"github.com/xraph/loom/broker/memory"
	"github.com/xraph/loom/queue"
)

func testEnvelope(queueName string) *queue.Envelope {
	return &queue.Envelope{
		MessageID: "msg_01h2xcejqtf2nbrexx3vqjhp41",
		QueueName: queueName,
		Message:   json.RawMessage(`{"n":1}`),
		Metadata:  queue.Metadata{Attempt: 1},
	}
}

func TestBroker_PublishDequeue(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	env := testEnvelope("wf.orders")
	if err := b.Publish(ctx, env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	d, err := b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil {
		t.Fatal("no delivery")
	}
	if d.Receipt == "" {
		t.Error("delivery has no receipt")
	}
	if d.Envelope.MessageID != env.MessageID {
		t.Errorf("MessageID = %q, want %q", d.Envelope.MessageID, env.MessageID)
	}
	if string(d.Envelope.Message) != `{"n":1}` {
		t.Errorf("Message = %s, want %s", d.Envelope.Message, `{"n":1}`)
	}
}

func TestBroker_DeliveryDoesNotAliasPublisher(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	env := testEnvelope("wf.orders")
	if err := b.Publish(ctx, env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Mutations after publish must not reach the consumer.
	env.Metadata.Attempt = 99
	env.Message = json.RawMessage(`{"tampered":true}`)

	d, err := b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d.Envelope.Metadata.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", d.Envelope.Metadata.Attempt)
	}
	if string(d.Envelope.Message) != `{"n":1}` {
		t.Errorf("Message = %s, want original payload", d.Envelope.Message)
	}
}

func TestBroker_PrefixFilter(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	if err := b.Publish(ctx, testEnvelope("other.q")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(ctx, testEnvelope("wf.q")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	d, err := b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil || d.Envelope.QueueName != "wf.q" {
		t.Fatalf("delivery = %+v, want envelope from wf.q", d)
	}

	// Nothing else matches the prefix.
	d, err = b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("second Dequeue: %v", err)
	}
	if d != nil {
		t.Fatalf("unexpected delivery %+v", d)
	}

	if n := b.Len("other.q"); n != 1 {
		t.Errorf("other.q holds %d envelopes, want 1", n)
	}
}

func TestBroker_DrainsQueuesInNameOrder(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	if err := b.Publish(ctx, testEnvelope("wf.zebra")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(ctx, testEnvelope("wf.alpha")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	first, err := b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if first.Envelope.QueueName != "wf.alpha" {
		t.Errorf("first delivery from %q, want wf.alpha", first.Envelope.QueueName)
	}
}

func TestBroker_AckSettles(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	if err := b.Publish(ctx, testEnvelope("wf.q")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	d, err := b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := b.Ack(ctx, d); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	// Retrying a settled delivery is a no-op: nothing is re-queued.
	if err := b.Retry(ctx, d, 0); err != nil {
		t.Fatalf("Retry after Ack: %v", err)
	}
	if n := b.Len("wf.q"); n != 0 {
		t.Errorf("settled delivery re-queued: Len = %d", n)
	}
}

func TestBroker_RetryBumpsAttemptAndDelays(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	const delay = 60 * time.Millisecond

	if err := b.Publish(ctx, testEnvelope("wf.q")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	d, err := b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	retriedAt := time.Now()
	if err := b.Retry(ctx, d, delay); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	// Not ready yet.
	if d, err = b.Dequeue(ctx, "wf.", 0); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d != nil {
		t.Fatal("delayed envelope delivered early")
	}

	d, err = b.Dequeue(ctx, "wf.", time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil {
		t.Fatal("delayed envelope never redelivered")
	}
	if got := time.Since(retriedAt); got < delay {
		t.Errorf("redelivered after %v, want at least %v", got, delay)
	}
	if d.Envelope.Metadata.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", d.Envelope.Metadata.Attempt)
	}
}

func TestBroker_RetryDefaultBackoff(t *testing.T) {
	b := memory.New(memory.WithBackoff(backoff.NewConstant(0)))
	ctx := context.Background()

	if err := b.Publish(ctx, testEnvelope("wf.q")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	d, err := b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// No explicit delay: the configured strategy decides (here zero).
	if err := b.Retry(ctx, d, 0); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	d, err = b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil {
		t.Fatal("envelope not redelivered immediately under zero backoff")
	}
	if d.Envelope.Metadata.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", d.Envelope.Metadata.Attempt)
	}
}

func TestBroker_DequeueWaitsForPublish(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = b.Publish(ctx, testEnvelope("wf.q"))
	}()

	d, err := b.Dequeue(ctx, "wf.", time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil {
		t.Fatal("blocking dequeue missed the publish")
	}
}

func TestBroker_DequeueHonorsContext(t *testing.T) {
	b := memory.New()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := b.Dequeue(ctx, "wf.", time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dequeue = %v, want DeadlineExceeded", err)
	}
}

func TestBroker_MsgpackCodec(t *testing.T) {
	b := memory.New(memory.WithCodec(&queue.MsgpackCodec{}))
	ctx := context.Background()

	env := testEnvelope("wf.q")
	env.Metadata.OwnerID = "owner_123"
	if err := b.Publish(ctx, env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	d, err := b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil {
		t.Fatal("no delivery")
	}
	if string(d.Envelope.Message) != `{"n":1}` {
		t.Errorf("Message = %s, want %s", d.Envelope.Message, `{"n":1}`)
	}
	if d.Envelope.Metadata.OwnerID != "owner_123" {
		t.Errorf("OwnerID = %q, want owner_123", d.Envelope.Metadata.OwnerID)
	}
}

func TestBroker_ClosedRejectsEverything(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	if err := b.Publish(ctx, testEnvelope("wf.q")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	d, err := b.Dequeue(ctx, "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := b.Publish(ctx, testEnvelope("wf.q")); !errors.Is(err, loom.ErrBrokerClosed) {
		t.Errorf("Publish after Close = %v, want ErrBrokerClosed", err)
	}
	if _, err := b.Dequeue(ctx, "wf.", 0); !errors.Is(err, loom.ErrBrokerClosed) {
		t.Errorf("Dequeue after Close = %v, want ErrBrokerClosed", err)
	}
	if err := b.Ack(ctx, d); !errors.Is(err, loom.ErrBrokerClosed) {
		t.Errorf("Ack after Close = %v, want ErrBrokerClosed", err)
	}
	if err := b.Retry(ctx, d, 0); !errors.Is(err, loom.ErrBrokerClosed) {
		t.Errorf("Retry after Close = %v, want ErrBrokerClosed", err)
	}
}
