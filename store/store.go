package store

import (
	"context"

	"github.com/xraph/loom/event"
	"github.com/xraph/loom/hook"
	"github.com/xraph/loom/queue"
	"github.com/xraph/loom/run"
	"github.com/xraph/loom/step"
	"github.com/xraph/loom/stream"
)

// Store is the aggregate persistence interface. Each subsystem store is a
// composable interface; a single backend (memory, postgres, bun) implements
// all of them. The composition is explicit: nothing merges interfaces at
// runtime, a backend either satisfies the whole contract or it is not a
// Store.
type Store interface {
	run.Store
	step.Store
	event.Store
	hook.Store
	queue.Store
	stream.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend's resources. Backends handed a
	// caller-owned connection leave it open.
	Close() error
}
