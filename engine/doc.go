// Package engine wires all loom subsystems together over a single store
// and provides the application-level entry point.
//
// The engine package exists to break a fundamental import cycle: the root
// loom package defines Entity and the shared errors (imported by run,
// step, queue, etc.) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an Engine
//
//	st, err := postgres.New(ctx, connString)
//	if err != nil { ... }
//
//	eng, err := engine.New(st,
//	    engine.WithLogger(logger),
//	    engine.WithBlobStore(blob.NewRedis(client)),
//	    engine.WithBroker(redisbroker.New(client)),
//	)
//	if err != nil { ... }
//
//	if err := eng.Migrate(ctx); err != nil { ... }
//
// # Using Subsystems
//
// Every subsystem is an exported field; there is no hidden wiring to
// trace through:
//
//	rn, err := eng.Runs.Create(ctx, run.CreateParams{WorkflowName: "sync"})
//	st, err := eng.Steps.Create(ctx, step.CreateParams{RunID: rn.ID, Name: "fetch"})
//	msg, err := eng.Queue.Enqueue(ctx, queue.EnqueueParams{QueueName: "wf.sync"})
//
// # Options
//
//   - [WithLogger] — structured logger shared by all subsystems
//   - [WithBlobStore] — byte store for spilled payloads and streams
//   - [WithBroker] — queue transport
//   - [WithCoordinatorStore] — coordination snapshot store
//   - [WithConfig] — payload threshold and consumer tunables
package engine
