package queue

import "context"

// Next is the continuation a middleware calls to proceed down the chain.
type Next func(ctx context.Context) error

// Middleware wraps delivery handling with cross-cutting logic. It
// receives the current context, the delivery being handled, and the next
// step to call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
//
// Implementations live in the middleware package.
type Middleware func(ctx context.Context, d *Delivery, next Next) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, d *Delivery, next Next) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, d, prev)
			}
		}
		return h(ctx)
	}
}
