// Package hook manages token-addressable external callback registrations
// tied to workflow runs.
//
// A hook carries an opaque bearer token, generated at creation and
// indexed separately from the hook id, so external systems can correlate
// a callback without knowing internal identifiers. Hooks are hard-deleted
// on dispose.
package hook

import (
	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
)

// Hook is an external callback registration belonging to a run.
type Hook struct {
	loom.Entity

	ID    id.HookID `json:"id"`
	RunID id.RunID  `json:"runId"`

	// Token is the opaque bearer credential external callers present.
	// Unique across all hooks and indexed separately from ID.
	Token string `json:"token"`

	// Tenancy scope captured at creation time.
	OwnerID     string `json:"ownerId,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
	Environment string `json:"environment,omitempty"`

	// Metadata is a small set of caller-supplied labels. Stored inline,
	// never tiered to blob storage; callers keep it bounded.
	Metadata map[string]string `json:"metadata,omitempty"`
}
