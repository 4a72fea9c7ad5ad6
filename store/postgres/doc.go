// Package postgres provides a PostgreSQL-backed store built directly on
// pgx/v5 connection pools. It owns its schema: Migrate applies the
// embedded SQL files and tracks them in a loom_migrations table, so a
// fresh database is one call away from serving traffic.
//
//	st, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
//	if err != nil { ... }
//	defer st.Close()
//	if err := st.Migrate(ctx); err != nil { ... }
//
// Uniqueness is enforced by the database, not the client: duplicate run
// ids, hook tokens, and (queue_name, idempotency_key) pairs surface as
// the package-level sentinel errors in loom.
package postgres
