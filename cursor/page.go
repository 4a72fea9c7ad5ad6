package cursor

import (
	"fmt"
	"time"

	"github.com/xraph/loom"
)

// Window is the decoded pagination input a repository hands to its store:
// fetch rows strictly beyond Cursor in Order direction, up to FetchLimit.
type Window struct {
	Limit  int
	Cursor *Cursor // nil means from the start
	Order  Order
}

// FetchLimit returns how many rows a store should fetch: limit+1 so the
// presence of a further page is detectable, or 0 (everything) when
// pagination is disabled.
func (w Window) FetchLimit() int {
	if w.Limit <= 0 {
		return 0
	}

	return w.Limit + 1
}

// Direction returns the window's order, defaulting to Desc the same way
// ParseWindow does. Stores use it so hand-built windows sort like parsed
// ones.
func (w Window) Direction() Order {
	if w.Order == Asc {
		return Asc
	}

	return Desc
}

// ParseWindow validates the caller-facing (limit, token, order) triple.
// An empty order defaults to Desc. A token without a positive limit is
// rejected: no limit means pagination is disabled, so a cursor cannot
// apply.
func ParseWindow(limit int, token string, order Order) (Window, error) {
	switch order {
	case "":
		order = Desc
	case Asc, Desc:
	default:
		return Window{}, fmt.Errorf("loom/cursor: invalid order %q", order)
	}

	w := Window{Limit: limit, Order: order}
	if token == "" {
		return w, nil
	}

	if limit <= 0 {
		return Window{}, fmt.Errorf("loom/cursor: cursor passed without a limit: %w", loom.ErrInvalidCursor)
	}

	c, err := Decode(token)
	if err != nil {
		return Window{}, err
	}
	w.Cursor = &c

	return w, nil
}

// Page is one page of a keyset-paginated list. Cursor is empty and HasMore
// false on the final page, and always when pagination is disabled.
type Page[T any] struct {
	Items   []T
	Cursor  string
	HasMore bool
}

// NewPage applies the limit+1 protocol to rows a store fetched for w: when
// the over-fetched row is present it is dropped, HasMore is set, and a
// token is encoded from the last kept row via key. Otherwise rows pass
// through as the final (or only) page.
func NewPage[T any](rows []T, w Window, key func(T) (string, time.Time)) Page[T] {
	if w.Limit <= 0 || len(rows) <= w.Limit {
		return Page[T]{Items: rows}
	}

	rows = rows[:w.Limit]
	lastID, lastTS := key(rows[len(rows)-1])

	return Page[T]{Items: rows, Cursor: Encode(lastID, lastTS), HasMore: true}
}
