package frontend

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
	"github.com/olympus-org/olympus/internal/planner"
)

type submitStep struct {
	Name       string         `json:"name"`
	Capability string         `json:"capability"`
	Input      map[string]any `json:"input"`
	Deps       []string       `json:"deps"`
	Guard      *core.Guard    `json:"guard"`
}

type submitPlanRequest struct {
	Title    string         `json:"title"`
	Steps    []submitStep   `json:"steps"`
	Metadata map[string]any `json:"metadata"`
}

type submitPlanResponse struct {
	PlanID string          `json:"plan_id"`
	State  core.PlanStatus `json:"state"`
	Steps  []string        `json:"steps"`
}

// submitPlan materializes the submitted step list into a validated plan.
// Dependencies may reference sibling steps by decimal index; they are
// rewritten to step ids before the DAG check.
func (a *API) submitPlan(w http.ResponseWriter, r *http.Request) {
	var body submitPlanRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Title == "" {
		writeDomainError(w, core.NewValidationError("title", nil, errors.New("must not be empty")))
		return
	}
	if len(body.Steps) == 0 {
		writeDomainError(w, core.NewValidationError("steps", nil, errors.New("must contain at least one step")))
		return
	}

	steps := make([]*core.Step, 0, len(body.Steps))
	ids := make([]string, 0, len(body.Steps))
	for _, s := range body.Steps {
		ref := core.CapabilityRef{Name: s.Capability}
		if desc, err := a.registry.Resolve(s.Capability); err == nil {
			ref.Scope = desc.Scopes
		}
		step := core.NewStep(s.Name, ref, s.Input, nil)
		if s.Guard != nil {
			step.Guard = *s.Guard
		}
		steps = append(steps, step)
		ids = append(ids, step.ID)
	}
	for i, s := range body.Steps {
		deps, err := core.NormalizeDepRefs(s.Deps, ids)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		steps[i].Deps = deps
	}

	plan, err := core.NewPlan(body.Title, steps, body.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()
	if err := a.store.SavePlan(ctx, plan); err != nil {
		writeDomainError(w, err)
		return
	}
	ev := core.NewEvent(core.EventPlanCreated, plan.ID, map[string]any{"title": plan.Title})
	if err := a.store.AppendEvent(ctx, &ev); err != nil {
		logger.Error(ctx, "Failed to append event", tag.PlanID(plan.ID), tag.Error(err))
	}

	logger.Info(ctx, "Plan submitted", tag.PlanID(plan.ID), tag.Plan(plan.Title), tag.Count(len(plan.Steps)))
	writeJSON(w, http.StatusCreated, submitPlanResponse{PlanID: plan.ID, State: plan.State, Steps: ids})
}

func (a *API) listPlans(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, codeInvalidArgument, "limit must be a positive integer")
			return
		}
		limit = n
	}

	plans, err := a.store.ListPlans(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if plans == nil {
		plans = []*core.Plan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (a *API) getPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	planID := chi.URLParam(r, "planID")

	plan, err := a.store.GetPlan(ctx, planID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	events, err := a.store.EventsForPlan(ctx, planID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []core.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":   plan,
		"steps":  plan.Steps,
		"events": events,
	})
}

type runPlanRequest struct {
	ConsentToken  string   `json:"consent_token"`
	ConsentScopes []string `json:"consent_scopes"`
}

// runPlan acknowledges immediately and drives the plan in the background.
// Progress is observable through the transcript and the event stream.
func (a *API) runPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	planID := chi.URLParam(r, "planID")

	var body runPlanRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &body) {
			return
		}
	}

	if _, err := a.store.GetPlan(ctx, planID); err != nil {
		writeDomainError(w, err)
		return
	}

	tok := a.resolveToken(body.ConsentToken, body.ConsentScopes)
	a.runInBackground(planID, tok)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "plan_id": planID})
}

func (a *API) runInBackground(planID string, tok *consent.Token) {
	go func() {
		// The request context dies with the response; background runs get
		// their own lifetime.
		ctx := context.Background()
		if err := a.exec.RunByID(ctx, planID, tok); err != nil {
			logger.Error(ctx, "Plan run failed", tag.PlanID(planID), tag.Error(err))
		}
	}()
}

func (a *API) cancelPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	if !a.exec.Cancel(planID) {
		writeError(w, http.StatusNotFound, codeNotFound, "no active run for plan "+planID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "plan_id": planID})
}

type transcriptStep struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Capability    string            `json:"capability"`
	Deps          []string          `json:"deps"`
	State         core.StepStatus   `json:"state"`
	Error         string            `json:"error,omitempty"`
	OutputPreview map[string]string `json:"output_preview,omitempty"`
}

type transcriptResponse struct {
	PlanID string           `json:"plan_id"`
	Title  string           `json:"title"`
	State  core.PlanStatus  `json:"state"`
	Steps  []transcriptStep `json:"steps"`
}

// getTranscript returns the human-readable run summary: every step with its
// state and a bounded preview of textual output.
func (a *API) getTranscript(w http.ResponseWriter, r *http.Request) {
	plan, err := a.store.GetPlan(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := transcriptResponse{
		PlanID: plan.ID,
		Title:  plan.Title,
		State:  plan.State,
		Steps:  make([]transcriptStep, 0, len(plan.Steps)),
	}
	for _, step := range plan.Steps {
		resp.Steps = append(resp.Steps, transcriptStep{
			ID:            step.ID,
			Name:          step.Name,
			Capability:    step.Capability.Name,
			Deps:          step.Deps,
			State:         step.State,
			Error:         step.Error,
			OutputPreview: planner.OutputPreview(step.Output),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
