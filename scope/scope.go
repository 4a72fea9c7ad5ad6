// Package scope carries multi-tenant execution context (owner, project
// and environment identity) through context.Context.
//
// Hook creation and queue envelopes capture the ambient scope so that
// consumers and external callback lookups see the same tenancy as the
// original caller.
package scope

import "context"

// Scope identifies the tenant on whose behalf an operation runs.
type Scope struct {
	OwnerID     string
	ProjectID   string
	Environment string
}

// IsZero reports whether no tenancy information is present.
func (s Scope) IsZero() bool {
	return s.OwnerID == "" && s.ProjectID == "" && s.Environment == ""
}

type contextKey struct{}

// WithScope attaches a scope to the context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext extracts the scope from the context.
// Returns false if no scope is present.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(contextKey{}).(Scope)
	return s, ok
}

// Capture extracts the owner, project and environment identifiers from
// the context. Returns empty strings if no scope is present.
func Capture(ctx context.Context) (ownerID, projectID, environment string) {
	s, ok := FromContext(ctx)
	if !ok {
		return "", "", ""
	}

	return s.OwnerID, s.ProjectID, s.Environment
}

// Restore attaches a scope to the context using the given identifiers.
// If all are empty, the context is returned unchanged.
func Restore(ctx context.Context, ownerID, projectID, environment string) context.Context {
	s := Scope{OwnerID: ownerID, ProjectID: projectID, Environment: environment}
	if s.IsZero() {
		return ctx
	}

	return WithScope(ctx, s)
}
