package planner

import (
	"context"
	"fmt"

	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/store"
)

const (
	// maxFailureEvents bounds how much transcript each failed step quotes.
	maxFailureEvents = 5

	// maxPreviewChars bounds each quoted output field.
	maxPreviewChars = 512
)

// previewFields are the output keys worth quoting back to the model.
var previewFields = []string{"stdout", "stderr", "text", "content"}

// FailureSummary is the reflection prompt's view of a failed plan.
type FailureSummary struct {
	PlanID      string        `json:"plan_id"`
	FailedSteps []StepFailure `json:"failed_steps"`
}

// StepFailure describes one failed step with its recent transcript tail.
type StepFailure struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Capability string            `json:"capability"`
	Error      string            `json:"error,omitempty"`
	Events     []EventSummary    `json:"events,omitempty"`
	Output     map[string]string `json:"output_preview,omitempty"`
}

// EventSummary is a transcript event trimmed for prompt use.
type EventSummary struct {
	Type    string         `json:"type"`
	TS      int64          `json:"ts"`
	Payload map[string]any `json:"payload,omitempty"`
}

// BuildFailureSummary collects every failed step of the plan together with
// its last few events and bounded output previews.
func BuildFailureSummary(ctx context.Context, st *store.Store, plan *core.Plan) (*FailureSummary, error) {
	summary := &FailureSummary{PlanID: plan.ID}
	for _, step := range plan.Steps {
		if step.State != core.StepFailed {
			continue
		}
		events, err := st.LastEventsForStep(ctx, plan.ID, step.ID, maxFailureEvents)
		if err != nil {
			return nil, fmt.Errorf("failed to load events for step %s: %w", step.ID, err)
		}
		failure := StepFailure{
			ID:         step.ID,
			Name:       step.Name,
			Capability: step.Capability.Name,
			Error:      step.Error,
			Output:     OutputPreview(step.Output),
		}
		for _, ev := range events {
			failure.Events = append(failure.Events, EventSummary{
				Type:    ev.Type,
				TS:      ev.TS,
				Payload: ev.Payload,
			})
		}
		summary.FailedSteps = append(summary.FailedSteps, failure)
	}
	return summary, nil
}

// OutputPreview extracts the textual output fields, each truncated to
// maxPreviewChars. Reflection prompts and transcript responses share it.
func OutputPreview(output map[string]any) map[string]string {
	if len(output) == 0 {
		return nil
	}
	preview := make(map[string]string)
	for _, field := range previewFields {
		raw, ok := output[field]
		if !ok {
			continue
		}
		text, ok := raw.(string)
		if !ok {
			text = fmt.Sprintf("%v", raw)
		}
		if len(text) > maxPreviewChars {
			text = text[:maxPreviewChars]
		}
		preview[field] = text
	}
	if len(preview) == 0 {
		return nil
	}
	return preview
}
