package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/loom/cursor"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	return false
}

// appendWindow renders a window's keyset predicate, ORDER BY clause, and
// LIMIT onto a query built with $n placeholders. Every table keys its
// pagination on (created_at, idCol).
func appendWindow(query string, args []any, w cursor.Window, idCol string) (string, []any) {
	if w.Cursor != nil {
		pred := cursor.Predicate{
			TimestampColumn: "created_at",
			IDColumn:        idCol,
			Order:           w.Direction(),
			Cursor:          *w.Cursor,
		}
		frag, predArgs := pred.SQL(cursor.Dollar(len(args) + 1))
		query += " AND " + frag
		args = append(args, predArgs...)
	}

	query += " ORDER BY " + cursor.OrderBy("created_at", idCol, w.Direction())

	if n := w.FetchLimit(); n > 0 {
		args = append(args, n)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return query, args
}

// nullIfEmpty maps "" to SQL NULL for nullable text columns.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

// ──────────────────────────────────────────────────
// Millisecond timestamp conversion
// ──────────────────────────────────────────────────

// Columns hold epoch milliseconds (BIGINT); entities hold time.Time. All
// round-trips go through these so precision loss is uniform everywhere.

func toMs(t time.Time) int64 {
	return t.UnixMilli()
}

func toMsPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()

	return &ms
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromMsPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()

	return &t
}
