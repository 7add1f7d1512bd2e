package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/olympus-org/olympus/internal/core"
)

// Intent actions the model may choose during a chat turn.
const (
	actionAsk     = "ask"
	actionPlan    = "plan"
	actionRespond = "respond"
)

// maxIntentReply bounds the reply when the model output is not JSON and is
// relayed verbatim.
const maxIntentReply = 1000

// ChatReply is one assistant turn. At most one of RequiresInput and
// RequiresConsent is set; a consent-gated reply carries the scopes still
// needed and a preview of the plan that needs them.
type ChatReply struct {
	Reply           string       `json:"reply"`
	RequiresInput   bool         `json:"requires_input,omitempty"`
	RequiresConsent bool         `json:"requires_consent,omitempty"`
	MissingScopes   []string     `json:"missing_scopes,omitempty"`
	ProposedPlan    *PlanPreview `json:"proposed_plan,omitempty"`
}

// PlanPreview names a proposed plan and its steps without inputs, enough
// for a consent decision.
type PlanPreview struct {
	Title string        `json:"title"`
	Steps []StepPreview `json:"steps"`
}

type StepPreview struct {
	Name       string `json:"name"`
	Capability string `json:"capability"`
}

// intentDoc is the JSON shape the intent prompt asks for. Plan stays
// untyped: its presence gates planning, its content is re-proposed.
type intentDoc struct {
	Action  string         `json:"action"`
	Message string         `json:"message"`
	Plan    map[string]any `json:"plan"`
}

// ChatTurn classifies one user message as a clarifying question, a direct
// response, or a request to act. Acting proposes a plan bounded by the
// granted scopes; if the plan needs scopes beyond the grant the reply asks
// for consent instead, previewing the plan. A returned non-nil plan is the
// caller's to persist and run.
func (p *Planner) ChatTurn(ctx context.Context, userText string, scopes []string) (*ChatReply, *core.Plan, error) {
	toolsJSON, err := json.Marshal(p.AllowedTools(scopes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tool catalog: %w", err)
	}
	system, err := p.prompts.Render(PromptIntentSystem, nil)
	if err != nil {
		return nil, nil, err
	}
	user, err := p.prompts.Render(PromptIntentUser, map[string]any{
		"Message": userText,
		"Tools":   string(toolsJSON),
	})
	if err != nil {
		return nil, nil, err
	}

	resp, err := p.chat(ctx, proposeTemperature, system, user)
	if err != nil {
		return nil, nil, err
	}
	intent := parseIntent(resp.Content)

	action := strings.ToLower(strings.TrimSpace(intent.Action))
	message := strings.TrimSpace(intent.Message)

	if action == actionAsk {
		if message == "" {
			message = "I need more information."
		}
		return &ChatReply{Reply: message, RequiresInput: true}, nil, nil
	}
	if action != actionPlan || len(intent.Plan) == 0 {
		return &ChatReply{Reply: message}, nil, nil
	}

	goal := message
	if goal == "" {
		goal = userText
	}
	plan, err := p.Propose(ctx, goal, scopes)
	if err != nil {
		return nil, nil, err
	}

	if missing := p.MissingScopes(plan, scopes); len(missing) > 0 {
		return &ChatReply{
			Reply:           "This action requires additional consent scopes.",
			RequiresConsent: true,
			MissingScopes:   missing,
			ProposedPlan:    previewPlan(plan),
		}, nil, nil
	}
	return &ChatReply{Reply: "Executing plan: " + plan.Title}, plan, nil
}

// parseIntent reads the intent JSON; anything unparseable becomes a direct
// response carrying the raw text, bounded.
func parseIntent(text string) *intentDoc {
	var doc intentDoc
	if err := json.Unmarshal([]byte(jsonBlock(text)), &doc); err != nil {
		return &intentDoc{
			Action:  actionRespond,
			Message: truncate(strings.TrimSpace(text), maxIntentReply),
		}
	}
	return &doc
}

// SummarizeResult renders a finished plan's outcome as a chat reply.
func SummarizeResult(plan *core.Plan) string {
	switch plan.State {
	case core.PlanDone:
		return "Plan completed successfully."
	case core.PlanFailed:
		var errs []string
		for _, step := range plan.Steps {
			if step.Error == "" {
				continue
			}
			errs = append(errs, step.Name+" -> "+step.Error)
			if len(errs) == maxFailureEvents {
				break
			}
		}
		return "Plan failed: " + strings.Join(errs, "; ")
	default:
		return "Plan ended in state: " + plan.State.String()
	}
}

func previewPlan(plan *core.Plan) *PlanPreview {
	preview := &PlanPreview{Title: plan.Title}
	for _, step := range plan.Steps {
		preview.Steps = append(preview.Steps, StepPreview{
			Name:       step.Name,
			Capability: step.Capability.Name,
		})
	}
	return preview
}
