package core

import (
	"encoding/json"
	"fmt"
)

// PlanStatus represents the canonical lifecycle phases for a plan.
type PlanStatus int

const (
	PlanDraft PlanStatus = iota
	PlanQueued
	PlanRunning
	PlanPaused
	PlanDone
	PlanFailed
	PlanCancelled
)

// String returns the canonical token used across APIs, logs, and rows.
func (s PlanStatus) String() string {
	switch s {
	case PlanDraft:
		return "DRAFT"
	case PlanQueued:
		return "QUEUED"
	case PlanRunning:
		return "RUNNING"
	case PlanPaused:
		return "PAUSED"
	case PlanDone:
		return "DONE"
	case PlanFailed:
		return "FAILED"
	case PlanCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal checks if no further transitions are possible.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanDone || s == PlanFailed || s == PlanCancelled
}

// IsActive checks if the plan is queued or executing.
func (s PlanStatus) IsActive() bool {
	return s == PlanQueued || s == PlanRunning
}

// ParsePlanStatus converts a canonical token back to a PlanStatus.
func ParsePlanStatus(s string) (PlanStatus, error) {
	switch s {
	case "DRAFT":
		return PlanDraft, nil
	case "QUEUED":
		return PlanQueued, nil
	case "RUNNING":
		return PlanRunning, nil
	case "PAUSED":
		return PlanPaused, nil
	case "DONE":
		return PlanDone, nil
	case "FAILED":
		return PlanFailed, nil
	case "CANCELLED":
		return PlanCancelled, nil
	default:
		return PlanDraft, fmt.Errorf("unknown plan state: %q", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s PlanStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *PlanStatus) UnmarshalJSON(data []byte) error {
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	parsed, err := ParsePlanStatus(token)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StepStatus represents the canonical lifecycle phases for a single step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepBlocked
	StepDone
	StepFailed
	StepSkipped
)

// String returns the canonical token for the step lifecycle phase.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "PENDING"
	case StepRunning:
		return "RUNNING"
	case StepBlocked:
		return "BLOCKED"
	case StepDone:
		return "DONE"
	case StepFailed:
		return "FAILED"
	case StepSkipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

// IsFinished checks if the step has reached a terminal phase.
func (s StepStatus) IsFinished() bool {
	return s == StepDone || s == StepFailed || s == StepSkipped
}

// IsSuccess checks if the step counts toward plan completion.
func (s StepStatus) IsSuccess() bool {
	return s == StepDone || s == StepSkipped
}

// ParseStepStatus converts a canonical token back to a StepStatus.
func ParseStepStatus(s string) (StepStatus, error) {
	switch s {
	case "PENDING":
		return StepPending, nil
	case "RUNNING":
		return StepRunning, nil
	case "BLOCKED":
		return StepBlocked, nil
	case "DONE":
		return StepDone, nil
	case "FAILED":
		return StepFailed, nil
	case "SKIPPED":
		return StepSkipped, nil
	default:
		return StepPending, fmt.Errorf("unknown step state: %q", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	parsed, err := ParseStepStatus(token)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
