// Package event defines append-only workflow events. An event records a
// timestamped fact about a run — step transitions, hook deliveries,
// anything the engine wants observable later. Events are never updated or
// individually deleted; they disappear only when their run is deleted.
//
// The optional correlation id joins events across unrelated runs, e.g.
// every event caused by one external request.
package event

import (
	"encoding/json"
	"time"

	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
)

// Event is one append-only fact about a run.
type Event struct {
	ID    id.EventID `json:"id"`
	RunID id.RunID   `json:"run_id"`

	// Type tags the kind of fact, e.g. "step.completed".
	Type string `json:"type"`

	// CorrelationID joins events across runs. Empty means uncorrelated.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload is the optional event body, tiered like any other payload.
	Payload payload.Ref `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// PayloadData holds the resolved payload, populated only by reads
	// issued with loom.ResolveAll. Never persisted.
	PayloadData json.RawMessage `json:"payload_data,omitempty"`
}
