// Package store defines the aggregate persistence interface.
//
// Each subsystem (run, step, event, hook, queue, stream) defines its own
// store interface next to its entity type. The composite [Store] composes
// them all; a single backend need only implement Store to satisfy every
// subsystem's persistence contract.
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/postgres — PostgreSQL backend using pgx/v5
//   - store/bun — Bun ORM backend over a caller-owned *bun.DB
//
// # Usage
//
//	st, err := postgres.New(ctx, "postgres://localhost/loom")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	if err := st.Migrate(ctx); err != nil {
//	    return err
//	}
//
//	eng, err := engine.New(st)
//
// All backends store timestamps at millisecond precision and sort list
// results by (created_at, id) so keyset pagination behaves identically
// everywhere.
package store
