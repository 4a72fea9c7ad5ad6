// Package run defines workflow run entities and the repository that
// manages their lifecycle: payload tiering for inputs and outputs,
// set-once status timestamps, and keyset-paginated listing.
package run

import (
	"encoding/json"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
)

// Status is the lifecycle status of a workflow run.
type Status string

const (
	// StatusPending means the run was created but has not started executing.
	StatusPending Status = "pending"
	// StatusRunning means the run is currently executing.
	StatusRunning Status = "running"
	// StatusCompleted means the run finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the run failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled means the run was cancelled before completing.
	StatusCancelled Status = "cancelled"
	// StatusPaused means the run is suspended and may resume.
	StatusPaused Status = "paused"
)

// Statuses lists every valid run status, in declaration order.
var Statuses = []Status{
	StatusPending, StatusRunning, StatusCompleted,
	StatusFailed, StatusCancelled, StatusPaused,
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}

	return false
}

// Terminal reports whether s ends the run's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Run is one durable execution of a named workflow.
type Run struct {
	loom.Entity

	ID           id.RunID `json:"id"`
	WorkflowName string   `json:"workflow_name"`
	DeploymentID string   `json:"deployment_id,omitempty"`
	Status       Status   `json:"status"`

	// Input references the JSON array of workflow arguments; Output the
	// single result value. Both are payload-tiered.
	Input  payload.Ref `json:"input,omitempty"`
	Output payload.Ref `json:"output,omitempty"`

	// ExecutionContext is an optional JSON object stored inline with the
	// row, never tiered.
	ExecutionContext json.RawMessage `json:"execution_context,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// InputData and OutputData hold resolved payloads. They are populated
	// only by reads issued with loom.ResolveAll and are never persisted.
	InputData  json.RawMessage `json:"input_data,omitempty"`
	OutputData json.RawMessage `json:"output_data,omitempty"`
}

// applyStatus sets the status and stamps lifecycle timestamps. StartedAt
// is set once, on the first transition into running; CompletedAt once, on
// the first transition into a terminal status. Re-entering either never
// re-stamps.
func (r *Run) applyStatus(s Status, now time.Time) {
	r.Status = s

	if s == StatusRunning && r.StartedAt == nil {
		t := now
		r.StartedAt = &t
	}

	if s.Terminal() && r.CompletedAt == nil {
		t := now
		r.CompletedAt = &t
	}
}
