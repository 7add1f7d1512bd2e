// Package planner turns natural-language goals into executable plans and
// revises plans that failed. Prompts come from the prompt store, completions
// from the model router, and the capability catalog bounds what a plan may
// reference.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/llm"
	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
	"github.com/olympus-org/olympus/internal/tools"
)

const (
	proposeTemperature = 0.2
	reflectTemperature = 0.1
	planMaxTokens      = 800

	// maxTitleGoal bounds how much of the goal is quoted in a default title.
	maxTitleGoal = 48

	// fallbackPath is where the fallback plan parks unparseable model text.
	fallbackPath = "demo/agent.txt"
)

// planSchemaHint is shown verbatim to the model as the required output shape.
const planSchemaHint = `{
  "title": "short title",
  "steps": [
    {"name": "step-name", "capability": "tool.name", "deps": [], "input": {}}
  ]
}`

// ChatClient is the slice of the model router the planner needs.
type ChatClient interface {
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// Planner proposes and revises plans through a model backend.
type Planner struct {
	client   ChatClient
	registry *tools.Registry
	prompts  *PromptStore
}

// New creates a Planner over the given router, capability registry, and
// prompt store.
func New(client ChatClient, registry *tools.Registry, prompts *PromptStore) *Planner {
	return &Planner{client: client, registry: registry, prompts: prompts}
}

// Propose asks the model for a plan achieving the goal using only tools the
// granted scopes can invoke. Model text that does not yield a valid plan
// falls back to a canned write-then-read plan that preserves the raw text.
// Router errors (budget, allow-list, backend) are returned as-is.
func (p *Planner) Propose(ctx context.Context, goal string, scopes []string) (*core.Plan, error) {
	toolsJSON, err := json.Marshal(p.AllowedTools(scopes))
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool catalog: %w", err)
	}
	system, err := p.prompts.Render(PromptPlanSystem, nil)
	if err != nil {
		return nil, err
	}
	user, err := p.prompts.Render(PromptPlanUser, map[string]any{
		"Goal":       goal,
		"Tools":      string(toolsJSON),
		"SchemaHint": planSchemaHint,
	})
	if err != nil {
		return nil, err
	}

	resp, err := p.chat(ctx, proposeTemperature, system, user)
	if err != nil {
		return nil, err
	}

	title := "agent: " + truncate(goal, maxTitleGoal)
	plan, err := p.materializeOrFallback(resp.Content, title, map[string]any{"goal": goal})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Plan proposed",
		tag.PlanID(plan.ID), tag.Plan(plan.Title), tag.Count(len(plan.Steps)))
	return plan, nil
}

// Reflect asks the model to revise a failed plan. The prompt carries the
// goal, the previous plan, and the failure summary; a low temperature keeps
// the revision close to the original.
func (p *Planner) Reflect(ctx context.Context, goal string, parent *core.Plan, summary *FailureSummary) (*core.Plan, error) {
	prevJSON, err := json.Marshal(planOutline(parent))
	if err != nil {
		return nil, fmt.Errorf("failed to encode previous plan: %w", err)
	}
	failureJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to encode failure summary: %w", err)
	}
	system, err := p.prompts.Render(PromptPlanSystem, nil)
	if err != nil {
		return nil, err
	}
	user, err := p.prompts.Render(PromptReflectUser, map[string]any{
		"Goal":         goal,
		"PreviousPlan": string(prevJSON),
		"Failure":      string(failureJSON),
	})
	if err != nil {
		return nil, err
	}

	resp, err := p.chat(ctx, reflectTemperature, system, user)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{"goal": goal, "parent_plan_id": parent.ID}
	plan, err := p.materializeOrFallback(resp.Content, parent.Title, metadata)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Plan revised",
		tag.PlanID(plan.ID), tag.Plan(plan.Title), tag.Count(len(plan.Steps)))
	return plan, nil
}

// AllowedTools returns the capability catalog filtered to what the granted
// scopes can invoke. An empty grant or a wildcard returns everything;
// ungated capabilities are always included.
func (p *Planner) AllowedTools(scopes []string) []tools.Descriptor {
	catalog := p.registry.Catalog()
	if len(scopes) == 0 || slices.Contains(scopes, consent.ScopeAll) {
		return catalog
	}
	granted := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		granted[s] = struct{}{}
	}
	var out []tools.Descriptor
	for _, desc := range catalog {
		allowed := true
		for _, scope := range desc.Scopes {
			if _, ok := granted[scope]; !ok {
				allowed = false
				break
			}
		}
		if allowed {
			out = append(out, desc)
		}
	}
	return out
}

// MissingScopes returns the consent scopes the plan needs beyond what was
// granted, in first-use order. An empty or wildcard grant misses nothing.
func (p *Planner) MissingScopes(plan *core.Plan, granted []string) []string {
	if len(granted) == 0 || slices.Contains(granted, consent.ScopeAll) {
		return nil
	}
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}
	var missing []string
	seen := make(map[string]struct{})
	for _, step := range plan.Steps {
		desc, err := p.registry.Resolve(step.Capability.Name)
		if err != nil {
			continue
		}
		for _, scope := range desc.Scopes {
			if _, ok := have[scope]; ok {
				continue
			}
			if _, dup := seen[scope]; dup {
				continue
			}
			seen[scope] = struct{}{}
			missing = append(missing, scope)
		}
	}
	return missing
}

func (p *Planner) chat(ctx context.Context, temperature float64, system, user string) (*llm.ChatResponse, error) {
	maxTokens := planMaxTokens
	return p.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
}

// planDoc is the JSON shape the model is asked to produce. Deps stay
// untyped because models emit both index numbers and name strings.
type planDoc struct {
	Title string    `json:"title"`
	Steps []stepDoc `json:"steps"`
}

type stepDoc struct {
	Name       string         `json:"name"`
	Capability string         `json:"capability"`
	Deps       []any          `json:"deps"`
	Input      map[string]any `json:"input"`
}

// jsonBlock trims model chatter around the outermost JSON object.
func jsonBlock(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func parsePlanJSON(text string) (*planDoc, error) {
	var doc planDoc
	if err := json.Unmarshal([]byte(jsonBlock(text)), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return &doc, nil
}

// materializeOrFallback builds a validated plan from model text. Anything
// that fails to parse or validate becomes the canned fallback plan so the
// caller always has something runnable.
func (p *Planner) materializeOrFallback(content, defaultTitle string, metadata map[string]any) (*core.Plan, error) {
	if doc, err := parsePlanJSON(content); err == nil {
		if plan, err := p.materialize(doc, defaultTitle, metadata); err == nil {
			return plan, nil
		}
	}
	return fallbackPlan(content, metadata)
}

// materialize converts a parsed plan document into a validated core.Plan.
// Dependency references may be sibling names, decimal indices, or ids.
func (p *Planner) materialize(doc *planDoc, defaultTitle string, metadata map[string]any) (*core.Plan, error) {
	steps := make([]*core.Step, 0, len(doc.Steps))
	ids := make([]string, 0, len(doc.Steps))
	byName := make(map[string]string, len(doc.Steps))
	for _, sd := range doc.Steps {
		ref := core.CapabilityRef{Name: sd.Capability}
		if desc, err := p.registry.Resolve(sd.Capability); err == nil {
			ref.Scope = desc.Scopes
		}
		step := core.NewStep(sd.Name, ref, sd.Input, nil)
		steps = append(steps, step)
		ids = append(ids, step.ID)
		if _, dup := byName[sd.Name]; !dup {
			byName[sd.Name] = step.ID
		}
	}
	for i, sd := range doc.Steps {
		refs := make([]string, 0, len(sd.Deps))
		for _, dep := range depStrings(sd.Deps) {
			if id, ok := byName[dep]; ok {
				dep = id
			}
			refs = append(refs, dep)
		}
		deps, err := core.NormalizeDepRefs(refs, ids)
		if err != nil {
			return nil, err
		}
		steps[i].Deps = deps
	}

	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = defaultTitle
	}
	return core.NewPlan(title, steps, metadata)
}

func depStrings(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, dep := range raw {
		switch v := dep.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.Itoa(int(v)))
		default:
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out
}

// fallbackPlan writes the raw model text into the sandbox and reads it
// back, so an unparseable response still leaves an inspectable artifact.
func fallbackPlan(raw string, metadata map[string]any) (*core.Plan, error) {
	write := core.NewStep("w",
		core.CapabilityRef{Name: "fs.write", Scope: []string{consent.ScopeWriteFS}},
		map[string]any{"path": fallbackPath, "content": raw}, nil)
	read := core.NewStep("r",
		core.CapabilityRef{Name: "fs.read", Scope: []string{consent.ScopeReadFS}},
		map[string]any{"path": fallbackPath}, []string{write.ID})
	return core.NewPlan("write+read fallback", []*core.Step{write, read}, metadata)
}

// planOutline is the compact plan rendering quoted in reflection prompts.
func planOutline(plan *core.Plan) map[string]any {
	steps := make([]map[string]any, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		steps = append(steps, map[string]any{
			"id":         s.ID,
			"name":       s.Name,
			"capability": s.Capability.Name,
			"deps":       s.Deps,
			"input":      s.Input,
		})
	}
	return map[string]any{"title": plan.Title, "steps": steps}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
