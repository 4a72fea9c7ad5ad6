package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/loom/queue"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) queue.Middleware {
	return func(ctx context.Context, d *queue.Delivery, next queue.Next) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("delivery handler panicked",
					slog.String("message_id", d.Envelope.MessageID),
					slog.String("queue", d.Envelope.QueueName),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic handling message %s: %v", d.Envelope.MessageID, r)
			}
		}()
		return next(ctx)
	}
}
