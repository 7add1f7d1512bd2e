// Package test provides the shared harness integration tests build on: a
// migrated sqlite store, a sandbox rooted in a temp directory, and the
// registry, executor, and stub-backed model router wired over them.
package test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olympus-org/olympus/internal/config"
	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/llm"
	_ "github.com/olympus-org/olympus/internal/llm/allproviders"
	"github.com/olympus-org/olympus/internal/planner"
	"github.com/olympus-org/olympus/internal/runtime"
	"github.com/olympus-org/olympus/internal/sandbox"
	"github.com/olympus-org/olympus/internal/store"
	_ "github.com/olympus-org/olympus/internal/store/driver/sqlite"
	"github.com/olympus-org/olympus/internal/tools"
)

// Harness bundles the wired collaborators. Everything lives in test temp
// directories and is torn down with the test.
type Harness struct {
	Config   *config.Config
	Store    *store.Store
	Sandbox  *sandbox.Sandbox
	Registry *tools.Registry
	Executor *runtime.Executor
	Router   *llm.Router
	Planner  *planner.Planner
}

type settings struct {
	policy consent.Policy
	router llm.RouterSettings
}

// Option adjusts the harness before it is built.
type Option func(*settings)

// WithPolicy runs the harness under the given consent policy. The default
// policy enforces nothing.
func WithPolicy(p consent.Policy) Option {
	return func(s *settings) { s.policy = p }
}

// WithRouter overrides the model router settings. The default is the stub
// backend so tests never reach a real model.
func WithRouter(rs llm.RouterSettings) Option {
	return func(s *settings) { s.router = rs }
}

// Setup builds a fully wired harness. The executor polls at millisecond
// pace so plan runs finish quickly under test.
func Setup(t *testing.T, opts ...Option) *Harness {
	t.Helper()
	ctx := context.Background()

	s := settings{router: llm.RouterSettings{Backend: llm.ProviderStub}}
	for _, opt := range opts {
		opt(&s)
	}

	dataDir := t.TempDir()
	sandboxRoot := t.TempDir()
	dbPath := filepath.Join(dataDir, "olympus.db")

	st, err := store.Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))

	sb, err := sandbox.New(sandboxRoot)
	require.NoError(t, err)

	registry := tools.NewRegistry(tools.Env{Sandbox: sb, Policy: s.policy})
	exec := runtime.New(st, registry, s.policy, store.NewRunLocks(t.TempDir()), runtime.Options{
		Pause: time.Millisecond,
	})

	router, err := llm.NewRouter(s.router, st)
	require.NoError(t, err)

	prompts, err := planner.NewPromptStore("")
	require.NoError(t, err)
	t.Cleanup(prompts.Close)

	cfg := &config.Config{
		Core: config.Core{LogLevel: "debug", LogFormat: "text"},
		Paths: config.PathsConfig{
			DataDir:     dataDir,
			SandboxRoot: sandboxRoot,
			DBPath:      dbPath,
		},
		Exec: config.Exec{
			Concurrency:     runtime.DefaultConcurrency,
			ReflectMaxIters: 2,
		},
		Consent: config.Consent{Require: s.policy.RequireConsent, Auto: s.policy.AutoConsent},
		LLM:     config.LLM{Backend: config.BackendStub},
		Cache:   config.Cache{Backend: config.CacheBackendSQLite},
	}

	return &Harness{
		Config:   cfg,
		Store:    st,
		Sandbox:  sb,
		Registry: registry,
		Executor: exec,
		Router:   router,
		Planner:  planner.New(router, registry, prompts),
	}
}
