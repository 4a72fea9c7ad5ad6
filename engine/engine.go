package engine

import (
	"context"
	"log/slog"

	"github.com/xraph/loom"
	"github.com/xraph/loom/blob"
	membroker "github.com/xraph/loom/broker/memory"
	"github.com/xraph/loom/coordinator"
	"github.com/xraph/loom/event"
	"github.com/xraph/loom/hook"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
	"github.com/xraph/loom/queue"
	"github.com/xraph/loom/run"
	"github.com/xraph/loom/step"
	"github.com/xraph/loom/store"
	"github.com/xraph/loom/stream"
)

// Engine composes every loom subsystem over one store. Each field is the
// fully wired repository or service for its subsystem; there is no
// indirection on the read/write paths.
type Engine struct {
	Runs         *run.Repository
	Steps        *step.Repository
	Events       *event.Repository
	Hooks        *hook.Repository
	Queue        *queue.Dispatcher
	Streams      *stream.Service
	Coordinators *coordinator.Manager

	store      store.Store
	blobs      blob.Store
	payloads   *payload.Store
	broker     queue.Broker
	coordStore coordinator.Store
	config     loom.Config
	logger     *slog.Logger
}

// Option configures an Engine before its subsystems are wired.
type Option func(*Engine)

// WithLogger sets the structured logger shared by all subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBlobStore sets the byte store for spilled payloads and stream
// bodies. Defaults to an in-memory store.
func WithBlobStore(b blob.Store) Option {
	return func(e *Engine) { e.blobs = b }
}

// WithBroker sets the queue transport. Defaults to an in-memory broker.
func WithBroker(b queue.Broker) Option {
	return func(e *Engine) { e.broker = b }
}

// WithCoordinatorStore sets the coordination snapshot store. Defaults to
// an in-memory store.
func WithCoordinatorStore(s coordinator.Store) Option {
	return func(e *Engine) { e.coordStore = s }
}

// WithConfig replaces the default tunables.
func WithConfig(cfg loom.Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// New wires an engine over the given store. Dependencies not supplied
// via options fall back to in-memory implementations, which suit tests
// and single-process deployments only.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, loom.ErrNoStore
	}

	e := &Engine{
		store:  st,
		config: loom.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.blobs == nil {
		e.blobs = blob.NewMemory()
	}
	if e.broker == nil {
		e.broker = membroker.New(membroker.WithLogger(e.logger))
	}
	if e.coordStore == nil {
		e.coordStore = coordinator.NewMemoryStore()
	}

	e.payloads = payload.NewStore(e.blobs,
		payload.WithThreshold(e.config.PayloadThreshold),
		payload.WithLogger(e.logger))

	e.Runs = run.NewRepository(st, e.payloads, run.WithLogger(e.logger))
	e.Steps = step.NewRepository(st, e.payloads, step.WithLogger(e.logger))
	e.Events = event.NewRepository(st, e.payloads, event.WithLogger(e.logger))
	e.Hooks = hook.NewRepository(st, hook.WithLogger(e.logger))
	e.Queue = queue.NewDispatcher(st, e.broker, queue.WithDispatcherLogger(e.logger))
	e.Streams = stream.NewService(st, e.blobs, stream.WithLogger(e.logger))
	e.Coordinators = coordinator.NewManager(e.coordStore, coordinator.WithLogger(e.logger))

	return e, nil
}

// NewConsumer creates a consumer bound to the engine's store and broker.
// The engine's config supplies concurrency and polling defaults; opts
// may override them. The consumer is not started.
func (e *Engine) NewConsumer(queuePrefix string, handler queue.Handler, opts ...queue.ConsumerOption) *queue.Consumer {
	base := []queue.ConsumerOption{
		queue.WithConcurrency(e.config.Concurrency),
		queue.WithPollInterval(e.config.PollInterval),
		queue.WithDequeueWait(e.config.DequeueWait),
		queue.WithConsumerLogger(e.logger),
	}

	return queue.NewConsumer(e.store, e.broker, queuePrefix, handler, append(base, opts...)...)
}

// Migrate runs all schema migrations on the store.
func (e *Engine) Migrate(ctx context.Context) error {
	return e.store.Migrate(ctx)
}

// Ping checks store connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Close releases the broker and the store, in that order. Backends
// holding caller-owned connections leave them open.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.broker.Close(); err != nil {
		firstErr = err
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// DeleteRun removes a run and everything owned by it: the relational
// rows (steps, events and hooks cascade with the run row), the
// coordinator snapshot, and every external payload blob those rows
// referenced.
func (e *Engine) DeleteRun(ctx context.Context, runID id.RunID) error {
	refs, err := e.collectRunRefs(ctx, runID)
	if err != nil {
		return err
	}

	if err := e.store.DeleteRun(ctx, runID); err != nil {
		return err
	}

	if err := e.coordStore.Delete(ctx, runID); err != nil {
		e.logger.Warn("failed to delete coordinator state",
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()))
	}
	e.Coordinators.Release(runID)

	// Blobs go after the rows: a failure here leaves an orphaned blob,
	// never a row pointing at deleted data.
	for _, ref := range refs {
		if err := e.payloads.Delete(ctx, ref); err != nil {
			e.logger.Warn("failed to delete payload blob",
				slog.String("run_id", runID.String()),
				slog.String("error", err.Error()))
		}
	}

	e.logger.Debug("run deleted", slog.String("run_id", runID.String()))

	return nil
}

// collectRunRefs gathers the payload refs held by the run row and every
// step and event under it, before any row disappears.
func (e *Engine) collectRunRefs(ctx context.Context, runID id.RunID) ([]payload.Ref, error) {
	rn, err := e.Runs.Get(ctx, runID, loom.ResolveNone)
	if err != nil {
		return nil, err
	}

	refs := []payload.Ref{rn.Input, rn.Output}

	steps, err := e.Steps.List(ctx, step.ListParams{RunID: runID})
	if err != nil {
		return nil, err
	}
	for _, s := range steps.Items {
		refs = append(refs, s.Input, s.Output)
	}

	events, err := e.Events.List(ctx, event.ListParams{RunID: runID})
	if err != nil {
		return nil, err
	}
	for _, evt := range events.Items {
		refs = append(refs, evt.Payload)
	}

	return refs, nil
}
