// Package middleware provides composable middleware for queue delivery
// handling.
//
// A middleware wraps a consumer's handler call. Middleware are composed
// into a chain with [queue.Chain] and installed on a consumer via
// [queue.WithMiddleware]. They are applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	consumer := queue.NewConsumer(store, broker, "wf.", handler,
//	    queue.WithMiddleware(middleware.Logging(logger), middleware.Recover(logger)))
//
// # Built-in Middleware
//
//   - [Logging] — logs message id, queue, duration, and outcome per delivery
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the delivery context after a fixed duration
//   - [Tracing] — wraps handling in an OpenTelemetry span
//   - [Metrics] — records per-delivery duration and outcome counters
//   - [Scope] — restores the enqueue caller's tenancy from envelope metadata
//
// # Writing Custom Middleware
//
//	func MyMiddleware() queue.Middleware {
//	    return func(ctx context.Context, d *queue.Delivery, next queue.Next) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
