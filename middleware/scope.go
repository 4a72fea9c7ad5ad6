package middleware

import (
	"context"

	"github.com/xraph/loom/queue"
	"github.com/xraph/loom/scope"
)

// Scope returns middleware that restores multi-tenant scope from the
// envelope's metadata into the context. This ensures handlers see the
// same tenancy as the original enqueue caller.
func Scope() queue.Middleware {
	return func(ctx context.Context, d *queue.Delivery, next queue.Next) error {
		md := d.Envelope.Metadata
		ctx = scope.Restore(ctx, md.OwnerID, md.ProjectID, md.Environment)
		return next(ctx)
	}
}
