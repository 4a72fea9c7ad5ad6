package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/loom"
	membroker "github.com/xraph/loom/broker/memory"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/queue"
	"github.com/xraph/loom/scope"
	memstore "github.com/xraph/loom/store/memory"
)

func TestDispatcher_Enqueue(t *testing.T) {
	broker := membroker.New()
	d := queue.NewDispatcher(memstore.New(), broker)

	msg, err := d.Enqueue(context.Background(), queue.EnqueueParams{
		QueueName:      "wf.orders",
		Payload:        json.RawMessage(`{"n":1}`),
		IdempotencyKey: "order-1",
		DeploymentID:   "dep_1",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if msg.ID.IsNil() {
		t.Error("message id not assigned")
	}
	if msg.QueueName != "wf.orders" {
		t.Errorf("QueueName = %q, want %q", msg.QueueName, "wf.orders")
	}
	if msg.Processed() {
		t.Error("fresh message reports processed")
	}

	got, err := d.Get(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IdempotencyKey != "order-1" || got.DeploymentID != "dep_1" {
		t.Errorf("persisted record = %+v", got)
	}

	if n := broker.Len("wf.orders"); n != 1 {
		t.Errorf("broker holds %d envelopes, want 1", n)
	}
}

func TestDispatcher_EnqueueRequiresQueueName(t *testing.T) {
	d := queue.NewDispatcher(memstore.New(), membroker.New())

	if _, err := d.Enqueue(context.Background(), queue.EnqueueParams{}); err == nil {
		t.Fatal("expected error for missing queue name")
	}
}

func TestDispatcher_EnqueueIdempotent(t *testing.T) {
	broker := membroker.New()
	d := queue.NewDispatcher(memstore.New(), broker)

	params := queue.EnqueueParams{
		QueueName:      "wf.orders",
		Payload:        json.RawMessage(`{"n":1}`),
		IdempotencyKey: "order-1",
	}

	first, err := d.Enqueue(context.Background(), params)
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	second, err := d.Enqueue(context.Background(), params)
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("duplicate key created a second message: %s vs %s", first.ID, second.ID)
	}
	if n := broker.Len("wf.orders"); n != 1 {
		t.Errorf("duplicate enqueue re-published: broker holds %d envelopes", n)
	}
}

func TestDispatcher_EnqueueKeyScopedToQueue(t *testing.T) {
	d := queue.NewDispatcher(memstore.New(), membroker.New())

	first, err := d.Enqueue(context.Background(), queue.EnqueueParams{
		QueueName:      "wf.a",
		IdempotencyKey: "shared",
	})
	if err != nil {
		t.Fatalf("Enqueue wf.a: %v", err)
	}
	second, err := d.Enqueue(context.Background(), queue.EnqueueParams{
		QueueName:      "wf.b",
		IdempotencyKey: "shared",
	})
	if err != nil {
		t.Fatalf("Enqueue wf.b: %v", err)
	}

	if first.ID == second.ID {
		t.Error("same key on different queues deduplicated across queues")
	}
}

func TestDispatcher_EnqueueWithoutKeyNeverDedupes(t *testing.T) {
	broker := membroker.New()
	d := queue.NewDispatcher(memstore.New(), broker)

	params := queue.EnqueueParams{QueueName: "wf.fire", Payload: json.RawMessage(`{}`)}

	first, err := d.Enqueue(context.Background(), params)
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	second, err := d.Enqueue(context.Background(), params)
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}

	if first.ID == second.ID {
		t.Error("keyless enqueues deduplicated")
	}
	if n := broker.Len("wf.fire"); n != 2 {
		t.Errorf("broker holds %d envelopes, want 2", n)
	}
}

func TestDispatcher_EnqueueCapturesScope(t *testing.T) {
	broker := membroker.New()
	d := queue.NewDispatcher(memstore.New(), broker)

	ctx := scope.WithScope(context.Background(), scope.Scope{
		OwnerID:     "owner_123",
		ProjectID:   "proj_456",
		Environment: "staging",
	})
	if _, err := d.Enqueue(ctx, queue.EnqueueParams{QueueName: "wf.scoped"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	delivery, err := broker.Dequeue(context.Background(), "wf.", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if delivery == nil {
		t.Fatal("no delivery")
	}

	md := delivery.Envelope.Metadata
	if md.OwnerID != "owner_123" || md.ProjectID != "proj_456" || md.Environment != "staging" {
		t.Errorf("envelope metadata = %+v, tenancy not captured", md)
	}
	if md.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", md.Attempt)
	}
}

// racingStore simulates losing the insert race: the pre-check misses,
// then a competing enqueue wins the row before our insert lands.
type racingStore struct {
	queue.Store
	winner *queue.Message
}

func (s *racingStore) InsertMessage(ctx context.Context, _ *queue.Message) error {
	if err := s.Store.InsertMessage(ctx, s.winner); err != nil {
		return err
	}

	return loom.ErrMessageExists
}

func TestDispatcher_EnqueueRecoversLostInsertRace(t *testing.T) {
	inner := memstore.New()
	winner := &queue.Message{
		Entity:         loom.NewEntity(),
		ID:             id.NewMessageID(),
		QueueName:      "wf.race",
		IdempotencyKey: "contested",
	}

	broker := membroker.New()
	d := queue.NewDispatcher(&racingStore{Store: inner, winner: winner}, broker)

	got, err := d.Enqueue(context.Background(), queue.EnqueueParams{
		QueueName:      "wf.race",
		IdempotencyKey: "contested",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if got.ID != winner.ID {
		t.Errorf("recovered message %s, want race winner %s", got.ID, winner.ID)
	}
	if n := broker.Len("wf.race"); n != 0 {
		t.Errorf("losing enqueue published an envelope: broker holds %d", n)
	}
}

func TestDispatcher_ListFiltersProcessed(t *testing.T) {
	st := memstore.New()
	d := queue.NewDispatcher(st, membroker.New())
	ctx := context.Background()

	done, err := d.Enqueue(ctx, queue.EnqueueParams{QueueName: "wf.q", IdempotencyKey: "a"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := d.Enqueue(ctx, queue.EnqueueParams{QueueName: "wf.q", IdempotencyKey: "b"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := st.MarkProcessed(ctx, done.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	processed := true
	page, err := d.List(ctx, queue.ListParams{QueueName: "wf.q", Processed: &processed})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != done.ID {
		t.Fatalf("processed filter returned %d items", len(page.Items))
	}

	unprocessed := false
	page, err = d.List(ctx, queue.ListParams{QueueName: "wf.q", Processed: &unprocessed})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID == done.ID {
		t.Fatalf("unprocessed filter returned %d items", len(page.Items))
	}
}
