// Package loom is the persistence and coordination substrate for durable
// workflow execution. It stores workflow runs, their steps, emitted events,
// and callback hooks in a relational store, spills large payloads to a blob
// store transparently, and serializes per-run state changes behind a
// single-writer coordinator.
//
// Loom is a library, not a service. Import it, hand it a store and a blob
// backend, and drive it from your own workflow engine.
//
// # Quick Start
//
//	st := memory.New()
//	eng, err := engine.New(st,
//	    engine.WithBlobStore(blob.NewMemory()),
//	    engine.WithBroker(brokermem.New()),
//	)
//
// # Architecture
//
// Loom follows a composable store pattern: each subsystem (run, step, event,
// hook, queue, stream) defines its own store interface and a single backend
// implements all of them. Business rules — payload tiering, cursor
// pagination, status stamping, idempotent enqueue — live in repositories
// layered over those stores, so every backend behaves identically.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package loom
