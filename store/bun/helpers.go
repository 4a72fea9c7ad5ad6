package bunstore

import (
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/loom/cursor"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

// applyWindow adds a window's keyset predicate, ORDER BY clause, and LIMIT
// to a select query. Every table keys its pagination on (created_at, idCol).
func applyWindow(q *bun.SelectQuery, w cursor.Window, idCol string) *bun.SelectQuery {
	if w.Cursor != nil {
		pred := cursor.Predicate{
			TimestampColumn: "created_at",
			IDColumn:        idCol,
			Order:           w.Direction(),
			Cursor:          *w.Cursor,
		}
		frag, args := pred.SQL(cursor.Question())
		q = q.Where(frag, args...)
	}

	q = q.OrderExpr(cursor.OrderBy("created_at", idCol, w.Direction()))

	if n := w.FetchLimit(); n > 0 {
		q = q.Limit(n)
	}
	return q
}

// Columns hold epoch milliseconds (BIGINT); entities hold time.Time.

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
