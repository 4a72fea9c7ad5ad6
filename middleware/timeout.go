package middleware

import (
	"context"
	"time"

	"github.com/xraph/loom/queue"
)

// Timeout returns middleware that enforces a per-delivery execution
// deadline. When the deadline is exceeded the context is cancelled and
// the handler should return context.DeadlineExceeded. A non-positive
// duration makes the middleware a pass-through.
func Timeout(d time.Duration) queue.Middleware {
	return func(ctx context.Context, _ *queue.Delivery, next queue.Next) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
