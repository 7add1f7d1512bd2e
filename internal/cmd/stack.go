package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/olympus-org/olympus/internal/config"
	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/llm"
	"github.com/olympus-org/olympus/internal/planner"
	"github.com/olympus-org/olympus/internal/runtime"
	"github.com/olympus-org/olympus/internal/sandbox"
	"github.com/olympus-org/olympus/internal/store"
	"github.com/olympus-org/olympus/internal/store/redis"
	"github.com/olympus-org/olympus/internal/tools"
)

// Stack bundles the runtime collaborators a command needs to work with
// plans in-process: the durable store, the sandboxed tool registry, the
// executor, the model router, and the planner built on top of them.
type Stack struct {
	Store    *store.Store
	Cache    store.Cache
	Sandbox  *sandbox.Sandbox
	Registry *tools.Registry
	Executor *runtime.Executor
	Policy   consent.Policy
	Issuer   *consent.Issuer
	Router   *llm.Router
	Planner  *planner.Planner
	Prompts  *planner.PromptStore

	redis *redis.Cache
}

// Close releases the stack's resources. Safe to call on a partially
// opened stack.
func (s *Stack) Close() {
	if s.Prompts != nil {
		s.Prompts.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.Store != nil {
		_ = s.Store.Close()
	}
}

// OpenStack opens the store, migrates the schema, and wires the runtime
// components over it according to the loaded configuration.
func (c *Context) OpenStack() (*Stack, error) {
	cfg := c.Config
	stack := &Stack{}

	st, err := store.Open(c, cfg.Paths.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	stack.Store = st
	if err := st.EnsureSchema(c); err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	box, err := sandbox.New(cfg.Paths.SandboxRoot)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to open sandbox: %w", err)
	}
	stack.Sandbox = box

	stack.Policy = consent.Policy{
		RequireConsent: cfg.Consent.Require,
		AutoConsent:    cfg.Consent.Auto,
	}
	stack.Issuer = consent.NewIssuer(cfg.Consent.TokenSecret, cfg.Consent.TokenTTL)
	stack.Registry = tools.NewRegistry(tools.Env{Sandbox: box, Policy: stack.Policy})

	locks := store.NewRunLocks(filepath.Join(cfg.Paths.DataDir, "locks"))
	stack.Executor = runtime.New(st, stack.Registry, stack.Policy, locks, runtime.Options{
		Concurrency: cfg.Exec.Concurrency,
	})

	stack.Cache = store.Cache(st)
	if cfg.Cache.Backend == config.CacheBackendRedis {
		rc, err := redis.New(c, redis.Config{URL: cfg.Cache.RedisURL})
		if err != nil {
			stack.Close()
			return nil, fmt.Errorf("failed to connect cache: %w", err)
		}
		stack.redis = rc
		stack.Cache = rc
	}

	router, err := llm.NewRouter(routerSettings(cfg), stack.Cache)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to build model router: %w", err)
	}
	stack.Router = router

	prompts, err := planner.NewPromptStore(cfg.Paths.PromptsDir)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	stack.Prompts = prompts
	stack.Planner = planner.New(router, stack.Registry, prompts)

	return stack, nil
}

// routerSettings maps the configuration onto the model router. The backend
// URL follows the selected backend; the stub needs none.
func routerSettings(cfg *config.Config) llm.RouterSettings {
	backend, err := llm.ParseProviderType(string(cfg.LLM.Backend))
	if err != nil {
		backend = llm.ProviderStub
	}

	var baseURL string
	switch backend {
	case llm.ProviderOllama:
		baseURL = cfg.LLM.OllamaURL
	case llm.ProviderLlamaCPP:
		baseURL = cfg.LLM.LlamaCPPURL
	}

	return llm.RouterSettings{
		Backend:          backend,
		BaseURL:          baseURL,
		Model:            cfg.LLM.Model,
		AllowList:        cfg.LLM.AllowList,
		CacheTTL:         cfg.LLM.CacheTTL,
		DailyTokenBudget: cfg.LLM.DailyTokenBudget,
		DailyUSDBudget:   cfg.LLM.DailyUSDBudget,
	}
}
