package core

import "github.com/google/uuid"

// Event types recorded in the transcript.
const (
	EventPlanCreated   = "plan.created"
	EventPlanStarted   = "plan.started"
	EventPlanDone      = "plan.done"
	EventPlanFailed    = "plan.failed"
	EventPlanRevised   = "plan.revised"
	EventPlanRevisedTo = "plan.revised_to"
	EventStepStarted   = "step.started"
	EventStepDone      = "step.done"
	EventStepFailed    = "step.failed"
	EventChatUser      = "chat.user"
	EventChatAssistant = "chat.assistant"
)

// Event is one append-only transcript record. Events are derived state:
// plans and steps remain authoritative for statuses and outputs.
type Event struct {
	// Seq is the store-assigned append order, 0 until persisted. Ties on TS
	// are broken by Seq so per-plan ordering is total.
	Seq     int64          `json:"seq,omitempty"`
	ID      string         `json:"id"`
	TS      int64          `json:"ts"`
	Type    string         `json:"type"`
	PlanID  string         `json:"plan_id"`
	StepID  string         `json:"step_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

// NewEvent creates a plan-level event stamped with the current time.
func NewEvent(eventType, planID string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:      uuid.New().String(),
		TS:      NowMillis(),
		Type:    eventType,
		PlanID:  planID,
		Payload: payload,
	}
}

// NewStepEvent creates an event attributed to a single step.
func NewStepEvent(eventType, planID, stepID string, payload map[string]any) Event {
	ev := NewEvent(eventType, planID, payload)
	ev.StepID = stepID
	return ev
}
