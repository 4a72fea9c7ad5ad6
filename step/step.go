// Package step defines workflow step entities and their repository. Steps
// belong to exactly one run, carry an attempt counter for retries, and
// follow the same payload-tiering and status-stamping rules as runs.
package step

import (
	"encoding/json"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
)

// Status is the lifecycle status of a workflow step.
type Status string

const (
	// StatusPending means the step has been recorded but not started.
	StatusPending Status = "pending"
	// StatusRunning means the step is currently executing.
	StatusRunning Status = "running"
	// StatusCompleted means the step finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the step failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled means the step was cancelled before completing.
	StatusCancelled Status = "cancelled"
)

// Statuses lists every valid step status, in declaration order.
var Statuses = []Status{
	StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled,
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

// Terminal reports whether s ends the step's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Step is one unit of work within a run, individually retryable.
type Step struct {
	loom.Entity

	ID     id.StepID `json:"id"`
	RunID  id.RunID  `json:"run_id"`
	Name   string    `json:"name"`
	Status Status    `json:"status"`

	Input  payload.Ref `json:"input,omitempty"`
	Output payload.Ref `json:"output,omitempty"`

	// Attempt starts at 1 and increments on each retry.
	Attempt int `json:"attempt"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// InputData and OutputData hold resolved payloads, populated only by
	// reads issued with loom.ResolveAll. Never persisted.
	InputData  json.RawMessage `json:"input_data,omitempty"`
	OutputData json.RawMessage `json:"output_data,omitempty"`
}

// applyStatus sets the status and stamps started/completed set-once, the
// same way runs do.
func (s *Step) applyStatus(st Status, now time.Time) {
	s.Status = st

	if st == StatusRunning && s.StartedAt == nil {
		t := now
		s.StartedAt = &t
	}

	if st.Terminal() && s.CompletedAt == nil {
		t := now
		s.CompletedAt = &t
	}
}
