package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/loom/queue"
)

// tracerName is the instrumentation scope name for loom tracing.
const tracerName = "github.com/xraph/loom"

// Tracing returns middleware that wraps delivery handling in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: loom.message.id, loom.queue, loom.attempt,
// loom.deployment.id, loom.scope.owner_id, loom.scope.project_id,
// loom.scope.environment. On error, the span status is set to
// codes.Error with the error message.
func Tracing() queue.Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) queue.Middleware {
	return func(ctx context.Context, d *queue.Delivery, next queue.Next) error {
		md := d.Envelope.Metadata
		ctx, span := tracer.Start(ctx, "loom.message.process",
			trace.WithAttributes(
				attribute.String("loom.message.id", d.Envelope.MessageID),
				attribute.String("loom.queue", d.Envelope.QueueName),
				attribute.Int("loom.attempt", md.Attempt),
				attribute.String("loom.deployment.id", md.DeploymentID),
				attribute.String("loom.scope.owner_id", md.OwnerID),
				attribute.String("loom.scope.project_id", md.ProjectID),
				attribute.String("loom.scope.environment", md.Environment),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
