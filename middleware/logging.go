package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/loom/queue"
)

// Logging returns middleware that logs delivery start and completion.
func Logging(logger *slog.Logger) queue.Middleware {
	return func(ctx context.Context, d *queue.Delivery, next queue.Next) error {
		env := d.Envelope
		logger.Info("delivery started",
			slog.String("message_id", env.MessageID),
			slog.String("queue", env.QueueName),
			slog.Int("attempt", env.Metadata.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("delivery failed",
				slog.String("message_id", env.MessageID),
				slog.String("queue", env.QueueName),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("delivery completed",
				slog.String("message_id", env.MessageID),
				slog.String("queue", env.QueueName),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
