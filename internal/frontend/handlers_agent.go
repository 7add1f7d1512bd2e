package frontend

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
	"github.com/olympus-org/olympus/internal/planner"
)

type actRequest struct {
	Capability    string         `json:"capability"`
	Input         map[string]any `json:"input"`
	ConsentToken  string         `json:"consent_token"`
	ConsentScopes []string       `json:"consent_scopes"`
}

// act dispatches a single capability synchronously, bypassing planning.
// Consent is mandatory whenever the policy requires it; the scopes default
// to the wildcard like an interactive "yes, do it" approval.
func (a *API) act(w http.ResponseWriter, r *http.Request) {
	var body actRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Capability == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "capability is required")
		return
	}
	if a.policy.RequireConsent && body.ConsentToken == "" {
		writeError(w, http.StatusForbidden, codeConsentRequired, "consent token required for direct dispatch")
		return
	}

	value := body.ConsentToken
	if value == "" {
		value = "explicit"
	}
	scopes := body.ConsentScopes
	if len(scopes) == 0 {
		scopes = []string{consent.ScopeAll}
	}
	tok := a.resolveToken(value, scopes)

	out, err := a.registry.Dispatch(r.Context(), body.Capability, body.Input, tok)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrConsentRequired),
			errors.Is(err, core.ErrConsentDenied),
			errors.Is(err, core.ErrBudgetExceeded):
			writeDomainError(w, err)
		default:
			// The capability ran against the caller's input and rejected it.
			writeError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "output": out})
}

type agentExecuteRequest struct {
	Goal         string   `json:"goal"`
	Scopes       []string `json:"scopes"`
	ConsentToken string   `json:"consent_token"`
	MaxIters     int      `json:"max_iters"`
}

type agentExecuteResponse struct {
	PlanID     string          `json:"plan_id"`
	State      core.PlanStatus `json:"state"`
	Iterations int             `json:"iterations"`
}

// agentExecute runs the full propose-execute-reflect loop synchronously and
// reports the final plan. max_iters overrides the configured revision bound
// for this request only.
func (a *API) agentExecute(w http.ResponseWriter, r *http.Request) {
	var body agentExecuteRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Goal == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "goal is required")
		return
	}

	maxIters := a.config.Exec.ReflectMaxIters
	if body.MaxIters > 0 {
		maxIters = body.MaxIters
	}
	tok := a.resolveToken(body.ConsentToken, body.Scopes)

	reflector := planner.NewReflector(a.planner, a.exec, a.store, maxIters)
	outcome, err := reflector.Execute(r.Context(), body.Goal, body.Scopes, tok)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentExecuteResponse{
		PlanID:     outcome.Plan.ID,
		State:      outcome.Plan.State,
		Iterations: outcome.Iterations,
	})
}

type agentChatRequest struct {
	Message      string   `json:"message"`
	SessionID    string   `json:"session_id"`
	Scopes       []string `json:"scopes"`
	ConsentToken string   `json:"consent_token"`
}

type agentChatResponse struct {
	SessionID       string               `json:"session_id"`
	Reply           string               `json:"reply"`
	RequiresInput   bool                 `json:"requires_input,omitempty"`
	RequiresConsent bool                 `json:"requires_consent,omitempty"`
	MissingScopes   []string             `json:"missing_scopes,omitempty"`
	ProposedPlan    *planner.PlanPreview `json:"proposed_plan,omitempty"`
	PlanID          string               `json:"plan_id,omitempty"`
}

// agentChat handles one natural-language turn. Both sides of the exchange
// land in the transcript under the session id; when the turn yields an
// executable plan it is persisted and started in the background.
func (a *API) agentChat(w http.ResponseWriter, r *http.Request) {
	var body agentChatRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "message is required")
		return
	}

	ctx := r.Context()
	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	a.appendChatEvent(ctx, sessionID, core.EventChatUser, body.Message)

	reply, plan, err := a.planner.ChatTurn(ctx, body.Message, body.Scopes)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := agentChatResponse{
		SessionID:       sessionID,
		Reply:           reply.Reply,
		RequiresInput:   reply.RequiresInput,
		RequiresConsent: reply.RequiresConsent,
		MissingScopes:   reply.MissingScopes,
		ProposedPlan:    reply.ProposedPlan,
	}

	if plan != nil {
		if err := a.store.SavePlan(ctx, plan); err != nil {
			writeDomainError(w, err)
			return
		}
		ev := core.NewEvent(core.EventPlanCreated, plan.ID, map[string]any{"title": plan.Title})
		if err := a.store.AppendEvent(ctx, &ev); err != nil {
			logger.Error(ctx, "Failed to append event", tag.PlanID(plan.ID), tag.Error(err))
		}
		resp.PlanID = plan.ID

		tok := a.resolveToken(body.ConsentToken, body.Scopes)
		a.runInBackground(plan.ID, tok)
	}

	a.appendChatEvent(ctx, sessionID, core.EventChatAssistant, resp.Reply)
	writeJSON(w, http.StatusOK, resp)
}

// appendChatEvent records one side of a chat exchange. Chat transcripts hang
// off the session id rather than a plan id.
func (a *API) appendChatEvent(ctx context.Context, sessionID, eventType, text string) {
	ev := core.NewEvent(eventType, sessionID, map[string]any{"text": text})
	if err := a.store.AppendEvent(ctx, &ev); err != nil {
		logger.Error(ctx, "Failed to append chat event", tag.PlanID(sessionID), tag.Error(err))
	}
}
