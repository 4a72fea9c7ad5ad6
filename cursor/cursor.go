// Package cursor implements keyset pagination over the (creation
// timestamp, identifier) pair. Every list operation sorts by that pair and
// filters with the predicate built here, so pages stay stable under
// concurrent inserts: a row is on exactly one page regardless of what gets
// inserted between fetches.
//
// Tokens are opaque to callers: base64url-encoded JSON carrying the last
// row's id and timestamp in epoch milliseconds.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/loom"
)

// Order is the sort direction of a paginated list.
type Order string

const (
	// Asc sorts oldest first.
	Asc Order = "asc"
	// Desc sorts newest first. Lists default to Desc.
	Desc Order = "desc"
)

// Cursor pins the last-seen row of a page.
type Cursor struct {
	LastID        string
	LastCreatedAt time.Time
}

// wire is the serialized token shape: {"id": ..., "ts": <millis>}.
type wire struct {
	ID string `json:"id"`
	TS int64  `json:"ts"`
}

// Encode builds an opaque token from the last row of a page.
func Encode(lastID string, lastCreatedAt time.Time) string {
	raw, err := json.Marshal(wire{ID: lastID, TS: lastCreatedAt.UnixMilli()})
	if err != nil {
		// wire has no unmarshalable fields; this cannot happen.
		panic(fmt.Sprintf("loom/cursor: encode: %v", err))
	}

	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a token produced by Encode. Any malformed input fails with
// loom.ErrInvalidCursor.
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("loom/cursor: empty token: %w", loom.ErrInvalidCursor)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("loom/cursor: decode token: %w", loom.ErrInvalidCursor)
	}

	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Cursor{}, fmt.Errorf("loom/cursor: parse token: %w", loom.ErrInvalidCursor)
	}

	if w.ID == "" {
		return Cursor{}, fmt.Errorf("loom/cursor: token missing id: %w", loom.ErrInvalidCursor)
	}

	return Cursor{LastID: w.ID, LastCreatedAt: time.UnixMilli(w.TS).UTC()}, nil
}

// Matches reports whether a row at (createdAt, rowID) lies strictly beyond
// the cursor in the given direction, i.e. belongs to a later page.
// Timestamps compare at millisecond precision, matching what backends
// persist.
func (c Cursor) Matches(createdAt time.Time, rowID string, o Order) bool {
	ts, last := createdAt.UnixMilli(), c.LastCreatedAt.UnixMilli()
	if o == Asc {
		return ts > last || (ts == last && rowID > c.LastID)
	}

	return ts < last || (ts == last && rowID < c.LastID)
}

// ──────────────────────────────────────────────────
// SQL rendering
// ──────────────────────────────────────────────────

// Predicate renders the keyset filter for one page fetch. For Desc the
// fragment is (ts < ? OR (ts = ? AND id < ?)); Asc flips the comparisons.
type Predicate struct {
	TimestampColumn string
	IDColumn        string
	Order           Order
	Cursor          Cursor
}

// SQL renders the fragment using placeholders supplied by next, returning
// the fragment and its arguments in placeholder order. The timestamp
// argument is emitted twice, as epoch milliseconds.
func (p Predicate) SQL(next func() string) (string, []any) {
	op := "<"
	if p.Order == Asc {
		op = ">"
	}

	ts := p.Cursor.LastCreatedAt.UnixMilli()
	frag := fmt.Sprintf("(%s %s %s OR (%s = %s AND %s %s %s))",
		p.TimestampColumn, op, next(),
		p.TimestampColumn, next(),
		p.IDColumn, op, next())

	return frag, []any{ts, ts, p.Cursor.LastID}
}

// Question returns a placeholder generator for "?" dialects (bun).
func Question() func() string {
	return func() string { return "?" }
}

// Dollar returns a placeholder generator for "$n" dialects (pgx), starting
// at the given index.
func Dollar(start int) func() string {
	n := start - 1

	return func() string {
		n++

		return fmt.Sprintf("$%d", n)
	}
}

// OrderBy renders the ORDER BY column list matching the predicate
// direction. Both columns always sort the same way.
func OrderBy(tsCol, idCol string, o Order) string {
	dir := "DESC"
	if o == Asc {
		dir = "ASC"
	}

	return fmt.Sprintf("%s %s, %s %s", tsCol, dir, idCol, dir)
}
