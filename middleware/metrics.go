package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/loom/queue"
)

// meterName is the instrumentation scope name for loom metrics.
const meterName = "github.com/xraph/loom"

// Metrics returns middleware that records per-delivery execution metrics
// using the global OTel MeterProvider. If no MeterProvider is configured,
// noop instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - loom.message.duration (Float64Histogram): handling time in seconds,
//     with attributes: queue, status ("ok" or "error")
//   - loom.message.deliveries (Int64Counter): total deliveries handled,
//     with attributes: queue, status ("ok" or "error")
func Metrics() queue.Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) queue.Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"loom.message.duration",
		metric.WithDescription("Duration of message handling in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	deliveries, eErr := meter.Int64Counter(
		"loom.message.deliveries",
		metric.WithDescription("Total number of deliveries handled"),
		metric.WithUnit("{delivery}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, d *queue.Delivery, next queue.Next) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("queue", d.Envelope.QueueName),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		deliveries.Add(ctx, 1, attrs)

		return err
	}
}
