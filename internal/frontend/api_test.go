package frontend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/store"
	"github.com/olympus-org/olympus/internal/test"
	"github.com/olympus-org/olympus/internal/tools"
)

// harness wires the API over the shared test stack plus an echo capability
// with no scopes, so plans can run without touching the sandbox.
type harness struct {
	api    *API
	router chi.Router
	store  *store.Store
}

func newHarness(t *testing.T, policy consent.Policy) *harness {
	t.Helper()

	hx := test.Setup(t, test.WithPolicy(policy))
	hx.Registry.Add(tools.Registration{
		Name:        "test.echo",
		Description: "echoes its input",
		Handler: func(_ context.Context, _ tools.Env, input map[string]any) (map[string]any, error) {
			return map[string]any{"text": input["text"]}, nil
		},
	})

	api := NewAPI(hx.Config, "1.2.3-test", Deps{
		Store:    hx.Store,
		Registry: hx.Registry,
		Executor: hx.Executor,
		Policy:   policy,
		LLM:      hx.Router,
		Planner:  hx.Planner,
	})

	r := chi.NewRouter()
	r.Route("/api/v1", api.Routes)

	return &harness{api: api, router: r, store: hx.Store}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

// submitEcho submits a two-step echo plan where the second step depends on
// the first by index, and returns the created plan id.
func (h *harness) submitEcho(t *testing.T) string {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/v1/plans", map[string]any{
		"title": "echo twice",
		"steps": []map[string]any{
			{"name": "first", "capability": "test.echo", "input": map[string]any{"text": "one"}},
			{"name": "second", "capability": "test.echo", "input": map[string]any{"text": "two"}, "deps": []string{"0"}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp submitPlanResponse
	decodeResponse(t, w, &resp)
	return resp.PlanID
}

func TestSubmitPlan_NormalizesIndexDeps(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/plans", map[string]any{
		"title": "indexed deps",
		"steps": []map[string]any{
			{"name": "a", "capability": "test.echo", "input": map[string]any{"text": "x"}},
			{"name": "b", "capability": "test.echo", "deps": []string{"0"}},
		},
		"metadata": map[string]any{"origin": "test"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp submitPlanResponse
	decodeResponse(t, w, &resp)
	assert.NotEmpty(t, resp.PlanID)
	assert.Equal(t, core.PlanDraft, resp.State)
	require.Len(t, resp.Steps, 2)

	plan, err := h.store.GetPlan(context.Background(), resp.PlanID)
	require.NoError(t, err)
	assert.Equal(t, []string{resp.Steps[0]}, plan.Steps[1].Deps, "index dep resolves to sibling id")
	assert.Equal(t, "test", plan.Metadata["origin"])

	events, err := h.store.EventsForPlan(context.Background(), resp.PlanID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventPlanCreated, events[0].Type)
	assert.Equal(t, "indexed deps", events[0].Payload["title"])
}

func TestSubmitPlan_FillsCapabilityScopes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/plans", map[string]any{
		"title": "scoped",
		"steps": []map[string]any{
			{"name": "w", "capability": "fs.write", "input": map[string]any{"path": "a.txt", "content": "hi"}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp submitPlanResponse
	decodeResponse(t, w, &resp)
	plan, err := h.store.GetPlan(context.Background(), resp.PlanID)
	require.NoError(t, err)
	assert.Equal(t, []string{consent.ScopeWriteFS}, plan.Steps[0].Capability.Scope)
}

func TestSubmitPlan_GuardOverride(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/plans", map[string]any{
		"title": "guarded",
		"steps": []map[string]any{
			{
				"name":       "one",
				"capability": "test.echo",
				"guard":      map[string]any{"consent_required": false, "max_retries": 7},
			},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp submitPlanResponse
	decodeResponse(t, w, &resp)
	plan, err := h.store.GetPlan(context.Background(), resp.PlanID)
	require.NoError(t, err)
	assert.False(t, plan.Steps[0].Guard.ConsentRequired)
	assert.Equal(t, 7, plan.Steps[0].Guard.MaxRetries)
}

func TestSubmitPlan_Validation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing title", map[string]any{
			"steps": []map[string]any{{"name": "a", "capability": "test.echo"}},
		}},
		{"no steps", map[string]any{"title": "empty"}},
		{"unknown dep", map[string]any{
			"title": "bad dep",
			"steps": []map[string]any{{"name": "a", "capability": "test.echo", "deps": []string{"missing"}}},
		}},
		{"cycle", map[string]any{
			"title": "loop",
			"steps": []map[string]any{
				{"name": "a", "capability": "test.echo", "deps": []string{"1"}},
				{"name": "b", "capability": "test.echo", "deps": []string{"0"}},
			},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/v1/plans", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var apiErr apiError
			decodeResponse(t, w, &apiErr)
			assert.Equal(t, codeInvalidArgument, apiErr.Code)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestSubmitPlan_MalformedJSON(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plans", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var apiErr apiError
	decodeResponse(t, w, &apiErr)
	assert.Equal(t, codeInvalidArgument, apiErr.Code)
}

func TestGetPlan_NotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodGet, "/api/v1/plans/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var apiErr apiError
	decodeResponse(t, w, &apiErr)
	assert.Equal(t, codeNotFound, apiErr.Code)
	assert.Contains(t, apiErr.Message, "nope")
}

func TestGetPlan_ReturnsStepsAndEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})
	planID := h.submitEcho(t)

	w := h.do(t, http.MethodGet, "/api/v1/plans/"+planID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Plan   *core.Plan   `json:"plan"`
		Steps  []*core.Step `json:"steps"`
		Events []core.Event `json:"events"`
	}
	decodeResponse(t, w, &resp)
	assert.Equal(t, planID, resp.Plan.ID)
	assert.Len(t, resp.Steps, 2)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, core.EventPlanCreated, resp.Events[0].Type)
}

func TestListPlans(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})
	h.submitEcho(t)
	h.submitEcho(t)

	w := h.do(t, http.MethodGet, "/api/v1/plans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Plans []*core.Plan `json:"plans"`
	}
	decodeResponse(t, w, &resp)
	assert.Len(t, resp.Plans, 2)

	w = h.do(t, http.MethodGet, "/api/v1/plans?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeResponse(t, w, &resp)
	assert.Len(t, resp.Plans, 1)

	w = h.do(t, http.MethodGet, "/api/v1/plans?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunPlan_ExecutesInBackground(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})
	planID := h.submitEcho(t)

	w := h.do(t, http.MethodPost, "/api/v1/plans/"+planID+"/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ack struct {
		OK     bool   `json:"ok"`
		PlanID string `json:"plan_id"`
	}
	decodeResponse(t, w, &ack)
	assert.True(t, ack.OK)
	assert.Equal(t, planID, ack.PlanID)

	assert.Eventually(t, func() bool {
		plan, err := h.store.GetPlan(context.Background(), planID)
		return err == nil && plan.State == core.PlanDone
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRunPlan_NotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/plans/ghost/run", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunPlan_ConsentEnforcement(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{RequireConsent: true})

	submit := func() string {
		w := h.do(t, http.MethodPost, "/api/v1/plans", map[string]any{
			"title": "guarded write",
			"steps": []map[string]any{
				{"name": "w", "capability": "fs.write", "input": map[string]any{"path": "a.txt", "content": "hi"}},
			},
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var resp submitPlanResponse
		decodeResponse(t, w, &resp)
		return resp.PlanID
	}

	denied := submit()
	w := h.do(t, http.MethodPost, "/api/v1/plans/"+denied+"/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Eventually(t, func() bool {
		plan, err := h.store.GetPlan(context.Background(), denied)
		return err == nil && plan.State == core.PlanFailed
	}, 3*time.Second, 10*time.Millisecond, "run without consent must fail")

	granted := submit()
	w = h.do(t, http.MethodPost, "/api/v1/plans/"+granted+"/run", map[string]any{
		"consent_token":  "user-approved",
		"consent_scopes": []string{consent.ScopeAll},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Eventually(t, func() bool {
		plan, err := h.store.GetPlan(context.Background(), granted)
		return err == nil && plan.State == core.PlanDone
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCancelPlan_NoActiveRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})
	planID := h.submitEcho(t)

	w := h.do(t, http.MethodPost, "/api/v1/plans/"+planID+"/cancel", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var apiErr apiError
	decodeResponse(t, w, &apiErr)
	assert.Equal(t, codeNotFound, apiErr.Code)
}

func TestTranscript_ReportsStepOutcomes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})
	planID := h.submitEcho(t)

	w := h.do(t, http.MethodPost, "/api/v1/plans/"+planID+"/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		plan, err := h.store.GetPlan(context.Background(), planID)
		return err == nil && plan.State == core.PlanDone
	}, 3*time.Second, 10*time.Millisecond)

	w = h.do(t, http.MethodGet, "/api/v1/plans/"+planID+"/transcript", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp transcriptResponse
	decodeResponse(t, w, &resp)
	assert.Equal(t, planID, resp.PlanID)
	assert.Equal(t, "echo twice", resp.Title)
	assert.Equal(t, core.PlanDone, resp.State)
	require.Len(t, resp.Steps, 2)
	for _, step := range resp.Steps {
		assert.Equal(t, core.StepDone, step.State)
		assert.Equal(t, "test.echo", step.Capability)
		assert.Empty(t, step.Error)
	}
	assert.Equal(t, "one", resp.Steps[0].OutputPreview["text"])
	assert.Equal(t, "two", resp.Steps[1].OutputPreview["text"])
}

func TestAct_DispatchesCapability(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/act", map[string]any{
		"capability": "test.echo",
		"input":      map[string]any{"text": "direct"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		OK     bool           `json:"ok"`
		Output map[string]any `json:"output"`
	}
	decodeResponse(t, w, &resp)
	assert.True(t, resp.OK)
	assert.Equal(t, "direct", resp.Output["text"])
}

func TestAct_ConsentMandatory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{RequireConsent: true})

	w := h.do(t, http.MethodPost, "/api/v1/act", map[string]any{
		"capability": "fs.write",
		"input":      map[string]any{"path": "x.txt", "content": "hi"},
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	var apiErr apiError
	decodeResponse(t, w, &apiErr)
	assert.Equal(t, codeConsentRequired, apiErr.Code)

	w = h.do(t, http.MethodPost, "/api/v1/act", map[string]any{
		"capability":    "fs.write",
		"input":         map[string]any{"path": "x.txt", "content": "hi"},
		"consent_token": "user-approved",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAct_ScopeDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{RequireConsent: true})

	w := h.do(t, http.MethodPost, "/api/v1/act", map[string]any{
		"capability":     "fs.write",
		"input":          map[string]any{"path": "x.txt", "content": "hi"},
		"consent_token":  "user-approved",
		"consent_scopes": []string{consent.ScopeReadFS},
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	var apiErr apiError
	decodeResponse(t, w, &apiErr)
	assert.Equal(t, codeConsentRequired, apiErr.Code)
}

func TestAct_UnknownCapability(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/act", map[string]any{
		"capability": "fs.teleport",
		"input":      map[string]any{},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var apiErr apiError
	decodeResponse(t, w, &apiErr)
	assert.Equal(t, codeInvalidArgument, apiErr.Code)
	assert.Contains(t, apiErr.Message, "fs.teleport")
}

func TestAgentExecute_RunsProposedPlan(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/agent/execute", map[string]any{
		"goal": "write me a note",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp agentExecuteResponse
	decodeResponse(t, w, &resp)
	assert.Equal(t, core.PlanDone, resp.State)
	assert.Equal(t, 1, resp.Iterations)

	plan, err := h.store.GetPlan(context.Background(), resp.PlanID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanDone, plan.State)
	assert.Equal(t, "write me a note", plan.Metadata["goal"])
}

func TestAgentExecute_RequiresGoal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/agent/execute", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentChat_PlainReply(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/agent/chat", map[string]any{
		"message": "hello there",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp agentChatResponse
	decodeResponse(t, w, &resp)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "stub-response", resp.Reply, "non-JSON model output becomes the reply")
	assert.Empty(t, resp.PlanID)

	events, err := h.store.EventsForPlan(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventChatUser, events[0].Type)
	assert.Equal(t, "hello there", events[0].Payload["text"])
	assert.Equal(t, core.EventChatAssistant, events[1].Type)
	assert.Equal(t, "stub-response", events[1].Payload["text"])
}

func TestAgentChat_KeepsSessionID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/agent/chat", map[string]any{
		"message":    "hello again",
		"session_id": "sess-42",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp agentChatResponse
	decodeResponse(t, w, &resp)
	assert.Equal(t, "sess-42", resp.SessionID)
}

func TestAgentChat_RequiresMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/agent/chat", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLLMUsage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodGet, "/api/v1/llm/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Date   string  `json:"date"`
		USD    float64 `json:"usd"`
		Tokens int64   `json:"tokens"`
	}
	decodeResponse(t, w, &resp)
	assert.NotEmpty(t, resp.Date)
	assert.Zero(t, resp.USD)
	assert.Zero(t, resp.Tokens)
}

func TestFacts_AddAndList(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodPost, "/api/v1/facts", map[string]any{
		"kind": "note",
		"data": map[string]any{"text": "remember me"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var fact store.Fact
	decodeResponse(t, w, &fact)
	assert.NotEmpty(t, fact.ID)
	assert.Equal(t, "note", fact.Kind)

	w = h.do(t, http.MethodGet, "/api/v1/facts?kind=note", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Facts []store.Fact `json:"facts"`
	}
	decodeResponse(t, w, &resp)
	require.Len(t, resp.Facts, 1)
	assert.Equal(t, "remember me", resp.Facts[0].Data["text"])

	w = h.do(t, http.MethodGet, "/api/v1/facts?kind=other", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeResponse(t, w, &resp)
	assert.Empty(t, resp.Facts)

	w = h.do(t, http.MethodPost, "/api/v1/facts", map[string]any{"data": map[string]any{}})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{})

	w := h.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	decodeResponse(t, w, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3-test", resp.Version)
	assert.GreaterOrEqual(t, resp.Uptime, int64(0))
}
