//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/loom"
	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/event"
	"github.com/xraph/loom/hook"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
	"github.com/xraph/loom/queue"
	"github.com/xraph/loom/run"
	"github.com/xraph/loom/step"
	bunstore "github.com/xraph/loom/store/bun"
	"github.com/xraph/loom/stream"
)

// setupTestStore creates a Postgres container and returns a connected Bun Store.
func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("loom_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	// Create Bun DB from pgdriver.
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := bunstore.New(db, bunstore.WithLogger(slog.Default()))

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

// entityAt builds an Entity stamped at a specific instant, truncated to the
// millisecond precision the backends persist.
func entityAt(at time.Time) loom.Entity {
	ms := at.UTC().Truncate(time.Millisecond)
	return loom.Entity{CreatedAt: ms, UpdatedAt: ms}
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	// Second migrate should be a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Run tests
// ──────────────────────────────────────────────────

func TestRunStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := &run.Run{
		Entity:           entityAt(time.Now()),
		ID:               id.NewRunID(),
		WorkflowName:     "provision-account",
		DeploymentID:     "dep-1",
		Status:           run.StatusPending,
		Input:            payload.Inline(`["alice",42]`),
		ExecutionContext: []byte(`{"traceId":"abc"}`),
	}

	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Duplicate id should fail.
	if dupErr := s.CreateRun(ctx, r); !errors.Is(dupErr, loom.ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got: %v", dupErr)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WorkflowName != "provision-account" {
		t.Fatalf("expected workflow name provision-account, got %s", got.WorkflowName)
	}
	if got.Input != r.Input {
		t.Fatalf("input reference did not round-trip: %+v", got.Input)
	}
	if string(got.ExecutionContext) != `{"traceId":"abc"}` {
		t.Fatalf("execution context did not round-trip byte-exact: %s", got.ExecutionContext)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Fatalf("created_at mismatch: want %v, got %v", r.CreatedAt, got.CreatedAt)
	}
}

func TestRunStore_UpdateAndDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := &run.Run{
		Entity:       entityAt(time.Now()),
		ID:           id.NewRunID(),
		WorkflowName: "update-me",
		Status:       run.StatusRunning,
	}
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	r.Status = run.StatusCompleted
	r.CompletedAt = &now
	r.Output = payload.External("blob/out")
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != run.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(now) {
		t.Fatalf("completed_at mismatch: %v", got.CompletedAt)
	}

	if err = s.DeleteRun(ctx, r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, getErr := s.GetRun(ctx, r.ID); !errors.Is(getErr, loom.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got: %v", getErr)
	}
	if delErr := s.DeleteRun(ctx, r.ID); !errors.Is(delErr, loom.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound on double delete, got: %v", delErr)
	}
}

func TestRunStore_ListKeysetWalk(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	ids := make([]string, 5)
	for i := 0; i < 5; i++ {
		r := &run.Run{
			Entity:       entityAt(base.Add(time.Duration(i) * time.Millisecond)),
			ID:           id.NewRunID(),
			WorkflowName: "walk",
			Status:       run.StatusPending,
		}
		ids[i] = r.ID.String()
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("create run %d: %v", i, err)
		}
	}

	// Walk descending two at a time; pages must concatenate to all five
	// runs newest-first with no duplicates.
	var seen []string
	w := cursor.Window{Limit: 2, Order: cursor.Desc}
	for {
		rows, err := s.ListRuns(ctx, run.ListOpts{WorkflowName: "walk", Window: w})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		page := cursor.NewPage(rows, w, func(r *run.Run) (string, time.Time) {
			return r.ID.String(), r.CreatedAt
		})
		for _, r := range page.Items {
			seen = append(seen, r.ID.String())
		}
		if !page.HasMore {
			break
		}
		c, err := cursor.Decode(page.Cursor)
		if err != nil {
			t.Fatalf("decode cursor: %v", err)
		}
		w.Cursor = &c
	}

	if len(seen) != 5 {
		t.Fatalf("expected 5 runs across pages, got %d", len(seen))
	}
	for i, wantIdx := range []int{4, 3, 2, 1, 0} {
		if seen[i] != ids[wantIdx] {
			t.Fatalf("page order wrong at %d: want %s, got %s", i, ids[wantIdx], seen[i])
		}
	}
}

// ──────────────────────────────────────────────────
// Step and cascade tests
// ──────────────────────────────────────────────────

func TestStepStore_CascadeDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := &run.Run{
		Entity:       entityAt(time.Now()),
		ID:           id.NewRunID(),
		WorkflowName: "cascade",
		Status:       run.StatusRunning,
	}
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("create run: %v", err)
	}

	st := &step.Step{
		Entity:  entityAt(time.Now()),
		ID:      id.NewStepID(),
		RunID:   r.ID,
		Name:    "charge-card",
		Status:  step.StatusRunning,
		Attempt: 1,
		Input:   payload.Inline(`{"amount":100}`),
	}
	if err := s.CreateStep(ctx, st); err != nil {
		t.Fatalf("create step: %v", err)
	}

	evt := &event.Event{
		ID:        id.NewEventID(),
		RunID:     r.ID,
		Type:      "step.started",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.CreateEvent(ctx, evt); err != nil {
		t.Fatalf("create event: %v", err)
	}

	h := &hook.Hook{
		Entity: entityAt(time.Now()),
		ID:     id.NewHookID(),
		RunID:  r.ID,
		Token:  "tok-cascade",
	}
	if err := s.CreateHook(ctx, h); err != nil {
		t.Fatalf("create hook: %v", err)
	}

	if err := s.DeleteRun(ctx, r.ID); err != nil {
		t.Fatalf("delete run: %v", err)
	}

	if _, err := s.GetStep(ctx, st.ID); !errors.Is(err, loom.ErrStepNotFound) {
		t.Fatalf("expected step cascade-deleted, got: %v", err)
	}
	if _, err := s.GetEvent(ctx, evt.ID); !errors.Is(err, loom.ErrEventNotFound) {
		t.Fatalf("expected event cascade-deleted, got: %v", err)
	}
	if _, err := s.GetHook(ctx, h.ID); !errors.Is(err, loom.ErrHookNotFound) {
		t.Fatalf("expected hook cascade-deleted, got: %v", err)
	}
}

func TestStepStore_ListByRunAndStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := &run.Run{
		Entity:       entityAt(time.Now()),
		ID:           id.NewRunID(),
		WorkflowName: "steps",
		Status:       run.StatusRunning,
	}
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("create run: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 4; i++ {
		status := step.StatusCompleted
		if i >= 2 {
			status = step.StatusPending
		}
		st := &step.Step{
			Entity:  entityAt(base.Add(time.Duration(i) * time.Millisecond)),
			ID:      id.NewStepID(),
			RunID:   r.ID,
			Name:    fmt.Sprintf("step-%d", i),
			Status:  status,
			Attempt: 1,
		}
		if err := s.CreateStep(ctx, st); err != nil {
			t.Fatalf("create step %d: %v", i, err)
		}
	}

	completed, err := s.ListSteps(ctx, step.ListOpts{RunID: r.ID, Status: step.StatusCompleted})
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("expected 2 completed, got %d", len(completed))
	}

	named, err := s.ListSteps(ctx, step.ListOpts{RunID: r.ID, Name: "step-3"})
	if err != nil {
		t.Fatalf("list by name: %v", err)
	}
	if len(named) != 1 || named[0].Name != "step-3" {
		t.Fatalf("expected exactly step-3, got %v", named)
	}
}

// ──────────────────────────────────────────────────
// Event tests
// ──────────────────────────────────────────────────

func TestEventStore_CorrelationAcrossRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	var runIDs []id.RunID
	for i := 0; i < 2; i++ {
		r := &run.Run{
			Entity:       entityAt(base),
			ID:           id.NewRunID(),
			WorkflowName: fmt.Sprintf("corr-%d", i),
			Status:       run.StatusRunning,
		}
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("create run %d: %v", i, err)
		}
		runIDs = append(runIDs, r.ID)
	}

	for i, rid := range runIDs {
		evt := &event.Event{
			ID:            id.NewEventID(),
			RunID:         rid,
			Type:          "request.traced",
			CorrelationID: "req-7",
			Payload:       payload.Inline(`{"hop":` + fmt.Sprint(i) + `}`),
			CreatedAt:     base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.CreateEvent(ctx, evt); err != nil {
			t.Fatalf("create event %d: %v", i, err)
		}
	}

	joined, err := s.ListEvents(ctx, event.ListOpts{CorrelationID: "req-7"})
	if err != nil {
		t.Fatalf("list by correlation: %v", err)
	}
	if len(joined) != 2 {
		t.Fatalf("expected 2 correlated events, got %d", len(joined))
	}
	// Default order is newest first.
	if joined[0].RunID != runIDs[1] {
		t.Fatalf("expected newest event first, got run %s", joined[0].RunID)
	}
}

// ──────────────────────────────────────────────────
// Hook tests
// ──────────────────────────────────────────────────

func TestHookStore_TokenUniqueAndLookup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := &run.Run{
		Entity:       entityAt(time.Now()),
		ID:           id.NewRunID(),
		WorkflowName: "hooks",
		Status:       run.StatusRunning,
	}
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("create run: %v", err)
	}

	h := &hook.Hook{
		Entity:      entityAt(time.Now()),
		ID:          id.NewHookID(),
		RunID:       r.ID,
		Token:       "tok-unique",
		OwnerID:     "owner-1",
		ProjectID:   "proj-1",
		Environment: "prod",
		Metadata:    map[string]string{"source": "callback"},
	}
	if err := s.CreateHook(ctx, h); err != nil {
		t.Fatalf("create hook: %v", err)
	}

	dup := &hook.Hook{
		Entity: entityAt(time.Now()),
		ID:     id.NewHookID(),
		RunID:  r.ID,
		Token:  "tok-unique",
	}
	if err := s.CreateHook(ctx, dup); !errors.Is(err, loom.ErrHookExists) {
		t.Fatalf("expected ErrHookExists for duplicate token, got: %v", err)
	}

	got, err := s.GetHookByToken(ctx, "tok-unique")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got.ID != h.ID {
		t.Fatalf("token lookup returned wrong hook: %s", got.ID)
	}
	if got.Metadata["source"] != "callback" {
		t.Fatalf("metadata did not round-trip: %v", got.Metadata)
	}

	scoped, err := s.ListHooks(ctx, hook.ListOpts{OwnerID: "owner-1", Environment: "prod"})
	if err != nil {
		t.Fatalf("list scoped: %v", err)
	}
	if len(scoped) != 1 {
		t.Fatalf("expected 1 scoped hook, got %d", len(scoped))
	}
}

// ──────────────────────────────────────────────────
// Queue message tests
// ──────────────────────────────────────────────────

func TestMessageStore_IdempotencyKey(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	m := &queue.Message{
		Entity:         entityAt(time.Now()),
		ID:             id.NewMessageID(),
		QueueName:      "emails",
		IdempotencyKey: "send-42",
		Payload:        []byte(`{"to":"a@example.com"}`),
	}
	if err := s.InsertMessage(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Same queue, same key: rejected.
	dup := &queue.Message{
		Entity:         entityAt(time.Now()),
		ID:             id.NewMessageID(),
		QueueName:      "emails",
		IdempotencyKey: "send-42",
	}
	if err := s.InsertMessage(ctx, dup); !errors.Is(err, loom.ErrMessageExists) {
		t.Fatalf("expected ErrMessageExists, got: %v", err)
	}

	// Same key on another queue: fine.
	other := &queue.Message{
		Entity:         entityAt(time.Now()),
		ID:             id.NewMessageID(),
		QueueName:      "sms",
		IdempotencyKey: "send-42",
	}
	if err := s.InsertMessage(ctx, other); err != nil {
		t.Fatalf("insert other queue: %v", err)
	}

	// Keyless messages never collide.
	for i := 0; i < 2; i++ {
		keyless := &queue.Message{
			Entity:    entityAt(time.Now()),
			ID:        id.NewMessageID(),
			QueueName: "emails",
		}
		if err := s.InsertMessage(ctx, keyless); err != nil {
			t.Fatalf("insert keyless %d: %v", i, err)
		}
	}

	got, err := s.GetMessageByKey(ctx, "emails", "send-42")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if got.ID != m.ID {
		t.Fatalf("key lookup returned wrong message: %s", got.ID)
	}
	if _, err := s.GetMessageByKey(ctx, "emails", ""); !errors.Is(err, loom.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound for empty key, got: %v", err)
	}
}

func TestMessageStore_MarkProcessedSetOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	m := &queue.Message{
		Entity:    entityAt(time.Now()),
		ID:        id.NewMessageID(),
		QueueName: "work",
	}
	if err := s.InsertMessage(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.MarkProcessed(ctx, m.ID, first); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkProcessed(ctx, m.ID, first.Add(time.Hour)); err != nil {
		t.Fatalf("re-mark: %v", err)
	}

	got, err := s.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProcessedAt == nil || !got.ProcessedAt.Equal(first) {
		t.Fatalf("expected original processed_at %v, got %v", first, got.ProcessedAt)
	}

	if err := s.MarkProcessed(ctx, id.NewMessageID(), first); !errors.Is(err, loom.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Stream tests
// ──────────────────────────────────────────────────

func TestStreamStore_Lifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	st := &stream.Stream{
		Entity: entityAt(time.Now()),
		Name:   "run-logs",
	}
	if err := s.CreateStream(ctx, st); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateStream(ctx, st); !errors.Is(err, loom.ErrStreamExists) {
		t.Fatalf("expected ErrStreamExists, got: %v", err)
	}

	st.Size = 128
	st.Closed = true
	st.Touch()
	if err := s.UpdateStream(ctx, st); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetStream(ctx, "run-logs")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Size != 128 || !got.Closed {
		t.Fatalf("update did not persist: %+v", got)
	}

	if err := s.DeleteStream(ctx, "run-logs"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetStream(ctx, "run-logs"); !errors.Is(err, loom.ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got: %v", err)
	}
}
