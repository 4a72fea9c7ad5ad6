// Package coordinator serializes status transitions and step-set
// membership for individual workflow runs.
//
// A [Manager] hands out one [Handle] per run id. All mutating calls on a
// handle are strictly ordered behind a per-handle mutex, and every
// mutation persists the full state snapshot before returning, so after a
// crash or cold start the coordinator resumes from exactly what was last
// durably written. Handles for different runs proceed independently.
//
// The handle exclusively owns its state: accessors return deep copies,
// never live references.
package coordinator

import (
	"time"

	"github.com/xraph/loom/id"
	"github.com/xraph/loom/run"
)

// State is the durable snapshot of one run's coordination data. The
// three step-id sets are pairwise disjoint at all times.
type State struct {
	RunID  id.RunID   `json:"runId"`
	Status run.Status `json:"status"`

	Active    []id.StepID `json:"activeSteps,omitempty"`
	Completed []id.StepID `json:"completedSteps,omitempty"`
	Failed    []id.StepID `json:"failedSteps,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	c := &State{
		RunID:     s.RunID,
		Status:    s.Status,
		UpdatedAt: s.UpdatedAt,
	}

	if s.Active != nil {
		c.Active = append([]id.StepID(nil), s.Active...)
	}
	if s.Completed != nil {
		c.Completed = append([]id.StepID(nil), s.Completed...)
	}
	if s.Failed != nil {
		c.Failed = append([]id.StepID(nil), s.Failed...)
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}

	return c
}

// contains reports whether a step id is in the given set.
func contains(set []id.StepID, stepID id.StepID) bool {
	for _, s := range set {
		if s == stepID {
			return true
		}
	}

	return false
}

// remove returns the set without the given step id, preserving order.
func remove(set []id.StepID, stepID id.StepID) []id.StepID {
	for i, s := range set {
		if s == stepID {
			return append(set[:i], set[i+1:]...)
		}
	}

	return set
}
