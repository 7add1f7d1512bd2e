package frontend

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olympus-org/olympus/internal/config"
	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/llm"
	"github.com/olympus-org/olympus/internal/metrics"
	"github.com/olympus-org/olympus/internal/planner"
	"github.com/olympus-org/olympus/internal/runtime"
	"github.com/olympus-org/olympus/internal/store"
	"github.com/olympus-org/olympus/internal/tools"
)

// Deps bundles the runtime components the API serves. Everything is
// constructed once at startup and shared across requests.
type Deps struct {
	Store    *store.Store
	Registry *tools.Registry
	Executor *runtime.Executor
	Policy   consent.Policy
	Issuer   *consent.Issuer
	LLM      *llm.Router
	Planner  *planner.Planner
	Metrics  *metrics.HTTPMetrics
}

// API exposes the runtime over HTTP. Handlers stay thin: decode, delegate
// to the runtime packages, encode.
type API struct {
	config    *config.Config
	store     *store.Store
	registry  *tools.Registry
	exec      *runtime.Executor
	policy    consent.Policy
	issuer    *consent.Issuer
	llm       *llm.Router
	planner   *planner.Planner
	metrics   *metrics.HTTPMetrics
	version   string
	startedAt time.Time
}

func NewAPI(cfg *config.Config, version string, deps Deps) *API {
	return &API{
		config:    cfg,
		store:     deps.Store,
		registry:  deps.Registry,
		exec:      deps.Executor,
		policy:    deps.Policy,
		issuer:    deps.Issuer,
		llm:       deps.LLM,
		planner:   deps.Planner,
		metrics:   deps.Metrics,
		version:   version,
		startedAt: time.Now(),
	}
}

// Routes mounts every endpoint on the given router. The server wraps this
// under the configured base path.
func (a *API) Routes(r chi.Router) {
	r.Route("/plans", func(r chi.Router) {
		r.Post("/", a.submitPlan)
		r.Get("/", a.listPlans)
		r.Route("/{planID}", func(r chi.Router) {
			r.Get("/", a.getPlan)
			r.Post("/run", a.runPlan)
			r.Post("/cancel", a.cancelPlan)
			r.Get("/transcript", a.getTranscript)
			r.Get("/events/stream", a.streamEvents)
		})
	})

	r.Post("/act", a.act)

	r.Route("/agent", func(r chi.Router) {
		r.Post("/execute", a.agentExecute)
		r.Post("/chat", a.agentChat)
	})

	r.Get("/llm/usage", a.llmUsage)

	r.Route("/facts", func(r chi.Router) {
		r.Get("/", a.listFacts)
		r.Post("/", a.addFact)
	})

	r.Get("/health", a.health)
}

// resolveToken turns request-supplied consent material into a token. Signed
// grants verify through the issuer; opaque tokens carry the explicit scopes.
func (a *API) resolveToken(value string, scopes []string) *consent.Token {
	return consent.Resolve(a.issuer, value, scopes)
}
