package core

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NowMillis returns the current wall clock in milliseconds since epoch,
// the timestamp unit used across rows and events.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// CapabilityRef names the tool a step invokes together with the consent
// scopes the tool requires.
type CapabilityRef struct {
	Name  string   `json:"name"`
	Scope []string `json:"scope"`
}

// Budget caps optional token and cost spend for a plan.
// Zero values mean no limit.
type Budget struct {
	TokenLimit int64   `json:"token_limit,omitempty"`
	USDLimit   float64 `json:"usd_limit,omitempty"`
}

// Guard is the per-step execution policy.
type Guard struct {
	ConsentRequired      bool    `json:"consent_required"`
	MaxRetries           int     `json:"max_retries"`
	RetryBackoffMS       int64   `json:"retry_backoff_ms"`
	RetryBackoffJitterMS int64   `json:"retry_backoff_jitter_ms"`
	DeadlineMS           int64   `json:"deadline_ms,omitempty"`
	BudgetTokens         int64   `json:"budget_tokens,omitempty"`
	BudgetUSD            float64 `json:"budget_usd,omitempty"`
}

// DefaultGuard returns the stock per-step policy.
func DefaultGuard() Guard {
	return Guard{
		ConsentRequired:      true,
		MaxRetries:           2,
		RetryBackoffMS:       250,
		RetryBackoffJitterMS: 200,
	}
}

// Step is a single unit of work in a plan.
type Step struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Capability CapabilityRef  `json:"capability"`
	Input      map[string]any `json:"input"`
	Deps       []string       `json:"deps"`
	Guard      Guard          `json:"guard"`
	State      StepStatus     `json:"state"`
	Attempts   int            `json:"attempts"`
	StartedAt  int64          `json:"started_at,omitempty"`
	EndedAt    int64          `json:"ended_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
}

// NewStep creates a pending step with a fresh id and default guard.
// Duplicate dependencies are removed preserving order.
func NewStep(name string, capability CapabilityRef, input map[string]any, deps []string) *Step {
	if input == nil {
		input = map[string]any{}
	}
	return &Step{
		ID:         uuid.New().String(),
		Name:       name,
		Capability: capability,
		Input:      input,
		Deps:       dedupDeps(deps),
		Guard:      DefaultGuard(),
		State:      StepPending,
	}
}

func dedupDeps(deps []string) []string {
	seen := make(map[string]struct{}, len(deps))
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// CanRun reports whether every dependency id is in the completed set.
func (s *Step) CanRun(completed map[string]struct{}) bool {
	for _, d := range s.Deps {
		if _, ok := completed[d]; !ok {
			return false
		}
	}
	return true
}

// MarkRunning transitions the step to RUNNING and stamps the start time.
func (s *Step) MarkRunning() {
	s.State = StepRunning
	s.StartedAt = NowMillis()
}

// MarkDone records the output and stamps the end time.
func (s *Step) MarkDone(output map[string]any) {
	s.State = StepDone
	s.Output = output
	s.EndedAt = NowMillis()
	s.Error = ""
}

// MarkFailed records the terminal error and stamps the end time.
func (s *Step) MarkFailed(errMsg string) {
	s.State = StepFailed
	s.Error = errMsg
	s.EndedAt = NowMillis()
}

// Plan is a DAG of steps plus bookkeeping. Steps are mutated only by the
// executor; everything else treats a persisted plan as immutable.
type Plan struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
	State     PlanStatus     `json:"state"`
	Budget    Budget         `json:"budget"`
	Steps     []*Step        `json:"steps"`
	Metadata  map[string]any `json:"metadata"`
}

// NewPlan creates a DRAFT plan and validates the step graph. A dependency
// cycle or a reference to a missing sibling is rejected here, before the
// plan can ever be persisted.
func NewPlan(title string, steps []*Step, metadata map[string]any) (*Plan, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := NowMillis()
	p := &Plan{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		State:     PlanDraft,
		Steps:     steps,
		Metadata:  metadata,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Touch bumps the mutation timestamp.
func (p *Plan) Touch() {
	p.UpdatedAt = NowMillis()
}

// FindStep returns the step with the given id.
func (p *Plan) FindStep(id string) (*Step, error) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ErrStepNotFound
}

// RunnableSteps returns steps whose dependencies are all DONE and that have
// not been dispatched yet.
func (p *Plan) RunnableSteps() []*Step {
	completed := make(map[string]struct{})
	for _, s := range p.Steps {
		if s.State == StepDone {
			completed[s.ID] = struct{}{}
		}
	}
	var out []*Step
	for _, s := range p.Steps {
		if (s.State == StepPending || s.State == StepBlocked) && s.CanRun(completed) {
			out = append(out, s)
		}
	}
	return out
}

// AllDone reports whether every step finished successfully or was skipped.
func (p *Plan) AllDone() bool {
	for _, s := range p.Steps {
		if !s.State.IsSuccess() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether at least one step is FAILED.
func (p *Plan) AnyFailed() bool {
	for _, s := range p.Steps {
		if s.State == StepFailed {
			return true
		}
	}
	return false
}

// Validate checks the dependency graph: every dep must name a sibling step
// and the relation must be acyclic.
func (p *Plan) Validate() error {
	ids := make(map[string]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		ids[s.ID] = struct{}{}
	}
	var errs ErrorList
	for _, s := range p.Steps {
		for _, d := range s.Deps {
			if _, ok := ids[d]; !ok {
				errs = append(errs, NewValidationError("deps", d, ErrStepNotFound))
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	if err := p.checkCycle(); err != nil {
		return err
	}
	return nil
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

// checkCycle runs a DFS over step ids; a back edge to a gray node is a cycle.
func (p *Plan) checkCycle() error {
	adj := make(map[string][]string, len(p.Steps))
	for _, s := range p.Steps {
		adj[s.ID] = s.Deps
	}
	color := make(map[string]int, len(p.Steps))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = colorGray
		for _, next := range adj[id] {
			switch color[next] {
			case colorGray:
				return ErrCycleDetected
			case colorWhite:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = colorBlack
		return nil
	}
	for _, s := range p.Steps {
		if color[s.ID] == colorWhite {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// NormalizeDepRefs maps submitted dependency references onto concrete step
// ids. A reference may be a literal sibling id or a decimal index into the
// submitted steps list; anything else is rejected.
func NormalizeDepRefs(deps []string, ids []string) ([]string, error) {
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		if _, ok := known[dep]; ok {
			out = append(out, dep)
			continue
		}
		idx, err := strconv.Atoi(dep)
		if err != nil || idx < 0 || idx >= len(ids) {
			return nil, NewValidationError("deps", dep, errors.New("unknown step reference"))
		}
		out = append(out, ids[idx])
	}
	return dedupDeps(out), nil
}
