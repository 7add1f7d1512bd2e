package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/sandbox"
	"github.com/olympus-org/olympus/internal/store"
	_ "github.com/olympus-org/olympus/internal/store/driver/sqlite"
	"github.com/olympus-org/olympus/internal/tools"
)

type harness struct {
	exec     *Executor
	store    *store.Store
	registry *tools.Registry
}

func newHarness(t *testing.T, policy consent.Policy, opts Options) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "olympus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))

	registry := tools.NewRegistry(tools.Env{Policy: policy})
	locks := store.NewRunLocks(t.TempDir())
	if opts.Pause == 0 {
		opts.Pause = time.Millisecond
	}
	return &harness{
		exec:     New(st, registry, policy, locks, opts),
		store:    st,
		registry: registry,
	}
}

// fastGuard keeps retry waits negligible so failure tests stay quick.
func fastGuard(maxRetries int) core.Guard {
	return core.Guard{ConsentRequired: true, MaxRetries: maxRetries, RetryBackoffMS: 1}
}

func eventTypes(t *testing.T, h *harness, planID string) []string {
	t.Helper()
	events, err := h.store.EventsForPlan(context.Background(), planID)
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func countStepEvents(t *testing.T, h *harness, planID, stepID, eventType string) int {
	t.Helper()
	events, err := h.store.EventsForPlan(context.Background(), planID)
	require.NoError(t, err)
	n := 0
	for _, ev := range events {
		if ev.StepID == stepID && ev.Type == eventType {
			n++
		}
	}
	return n
}

func TestExecutor_RunsLinearPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	h.registry.Add(tools.Registration{
		Name: "test.echo",
		Handler: func(_ context.Context, _ tools.Env, input map[string]any) (map[string]any, error) {
			return map[string]any{"echo": input["msg"]}, nil
		},
	})

	first := core.NewStep("write", core.CapabilityRef{Name: "test.echo"},
		map[string]any{"msg": "one"}, nil)
	second := core.NewStep("read", core.CapabilityRef{Name: "test.echo"},
		map[string]any{"msg": "two"}, []string{first.ID})
	plan, err := core.NewPlan("linear", []*core.Step{first, second}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	assert.Equal(t, core.PlanDone, plan.State)
	got, err := h.store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanDone, got.State)
	for _, step := range got.Steps {
		assert.Equal(t, core.StepDone, step.State)
		assert.Equal(t, 1, step.Attempts)
		assert.NotZero(t, step.StartedAt)
		assert.NotZero(t, step.EndedAt)
	}
	assert.Equal(t, "one", got.Steps[0].Output["echo"])
	assert.Equal(t, "two", got.Steps[1].Output["echo"])

	// The dependent only starts after its upstream is done.
	assert.Equal(t, []string{
		core.EventPlanStarted,
		core.EventStepStarted, core.EventStepDone,
		core.EventStepStarted, core.EventStepDone,
		core.EventPlanDone,
	}, eventTypes(t, h, plan.ID))
}

// newFSHarness wires the registry with a real sandbox so the filesystem
// builtins run end to end.
func newFSHarness(t *testing.T) (*harness, string) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "olympus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))

	sb, err := sandbox.New(t.TempDir())
	require.NoError(t, err)

	registry := tools.NewRegistry(tools.Env{Sandbox: sb})
	locks := store.NewRunLocks(t.TempDir())
	h := &harness{
		exec:     New(st, registry, consent.Policy{}, locks, Options{Pause: time.Millisecond}),
		store:    st,
		registry: registry,
	}
	return h, sb.Root()
}

func TestExecutor_WriteThenReadRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, root := newFSHarness(t)

	w := core.NewStep("w", core.CapabilityRef{Name: "fs.write", Scope: []string{consent.ScopeWriteFS}},
		map[string]any{"path": "demo/a.txt", "content": "hi"}, nil)
	r := core.NewStep("r", core.CapabilityRef{Name: "fs.read", Scope: []string{consent.ScopeReadFS}},
		map[string]any{"path": "demo/a.txt"}, []string{w.ID})
	plan, err := core.NewPlan("round trip", []*core.Step{w, r}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	got, err := h.store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanDone, got.State)
	require.Equal(t, core.StepDone, got.Steps[0].State)
	require.Equal(t, core.StepDone, got.Steps[1].State)
	assert.Equal(t, "hi", got.Steps[1].Output["content"])
	assert.LessOrEqual(t, got.Steps[0].EndedAt, got.Steps[1].StartedAt)

	data, err := os.ReadFile(filepath.Join(root, "demo", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestExecutor_SandboxEscapeFailsPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, root := newFSHarness(t)

	step := core.NewStep("escape", core.CapabilityRef{Name: "fs.write", Scope: []string{consent.ScopeWriteFS}},
		map[string]any{"path": "../escape.txt", "content": "x"}, nil)
	plan, err := core.NewPlan("escape", []*core.Step{step}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	got, err := h.store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanFailed, got.State)
	require.Equal(t, core.StepFailed, got.Steps[0].State)
	assert.Equal(t, 1, got.Steps[0].Attempts)
	assert.Contains(t, got.Steps[0].Error, core.ErrPathEscape.Error())
	assert.NoFileExists(t, filepath.Join(filepath.Dir(root), "escape.txt"))
}

func TestExecutor_EmptyPlanCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	plan, err := core.NewPlan("empty", nil, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	assert.Equal(t, core.PlanDone, plan.State)
	assert.Equal(t, []string{core.EventPlanStarted, core.EventPlanDone},
		eventTypes(t, h, plan.ID))
}

func TestExecutor_RetryThenSucceed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	var calls atomic.Int32
	h.registry.Add(tools.Registration{
		Name: "test.flaky",
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("transient failure")
			}
			return map[string]any{"ok": true}, nil
		},
	})

	step := core.NewStep("flaky", core.CapabilityRef{Name: "test.flaky"}, nil, nil)
	step.Guard = fastGuard(2)
	plan, err := core.NewPlan("retry", []*core.Step{step}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	assert.Equal(t, core.PlanDone, plan.State)
	assert.Equal(t, core.StepDone, step.State)
	assert.Equal(t, 2, step.Attempts)
	assert.Empty(t, step.Error)
	// One step.started per attempt, one step.done total.
	assert.Equal(t, 2, countStepEvents(t, h, plan.ID, step.ID, core.EventStepStarted))
	assert.Equal(t, 1, countStepEvents(t, h, plan.ID, step.ID, core.EventStepDone))
}

func TestExecutor_RetriesExhaustedFailsPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	h.registry.Add(tools.Registration{
		Name: "test.fail",
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		},
	})

	broken := core.NewStep("broken", core.CapabilityRef{Name: "test.fail"}, nil, nil)
	broken.Guard = fastGuard(2)
	dependent := core.NewStep("after", core.CapabilityRef{Name: "test.fail"},
		nil, []string{broken.ID})
	plan, err := core.NewPlan("exhausted", []*core.Step{broken, dependent}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	assert.Equal(t, core.PlanFailed, plan.State)
	assert.Equal(t, core.StepFailed, broken.State)
	assert.Equal(t, 3, broken.Attempts) // first try plus two retries
	assert.Contains(t, broken.Error, "boom")
	// Nothing downstream of the failure is dispatched.
	assert.Equal(t, core.StepPending, dependent.State)
	assert.Zero(t, dependent.Attempts)

	events, err := h.store.EventsForPlan(ctx, plan.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, core.EventPlanFailed, last.Type)
	assert.Equal(t, []any{broken.ID}, last.Payload["failed_steps"])
}

func TestExecutor_DeadlineStopsRetrying(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	h.registry.Add(tools.Registration{
		Name: "test.slowfail",
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			time.Sleep(25 * time.Millisecond)
			return nil, errors.New("still failing")
		},
	})

	step := core.NewStep("slow", core.CapabilityRef{Name: "test.slowfail"}, nil, nil)
	step.Guard = fastGuard(10)
	step.Guard.DeadlineMS = 40
	plan, err := core.NewPlan("deadline", []*core.Step{step}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	assert.Equal(t, core.PlanFailed, plan.State)
	assert.Equal(t, core.StepFailed, step.State)
	// The wall clock cuts retries off well before the retry budget would.
	assert.LessOrEqual(t, step.Attempts, 2)
}

func TestExecutor_TerminalErrorNeverRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	h.registry.Add(tools.Registration{
		Name: "test.escape",
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("reading /etc/passwd: %w", core.ErrPathEscape)
		},
	})

	step := core.NewStep("escape", core.CapabilityRef{Name: "test.escape"}, nil, nil)
	step.Guard = fastGuard(5)
	plan, err := core.NewPlan("terminal", []*core.Step{step}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	assert.Equal(t, core.PlanFailed, plan.State)
	assert.Equal(t, 1, step.Attempts)
	assert.Contains(t, step.Error, "path escapes sandbox")
}

func TestExecutor_UnknownCapabilityFailsStep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	step := core.NewStep("ghost", core.CapabilityRef{Name: "no.such.tool"}, nil, nil)
	step.Guard = fastGuard(5)
	plan, err := core.NewPlan("unknown", []*core.Step{step}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	assert.Equal(t, core.PlanFailed, plan.State)
	assert.Equal(t, core.StepFailed, step.State)
	assert.Equal(t, 1, step.Attempts)
	assert.Contains(t, step.Error, "unknown capability")
}

func TestExecutor_ConsentGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	policy := consent.Policy{RequireConsent: true}
	h := newHarness(t, policy, Options{})

	h.registry.Add(tools.Registration{
		Name:   "test.guarded",
		Scopes: []string{consent.ScopeWriteFS},
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			return map[string]any{"wrote": true}, nil
		},
	})

	newGuardedPlan := func(title string) (*core.Plan, *core.Step) {
		step := core.NewStep("guarded", core.CapabilityRef{Name: "test.guarded"}, nil, nil)
		step.Guard = fastGuard(3)
		plan, err := core.NewPlan(title, []*core.Step{step}, nil)
		require.NoError(t, err)
		return plan, step
	}

	// No token: the step fails on the first attempt, no retries.
	plan, step := newGuardedPlan("no token")
	require.NoError(t, h.exec.Run(ctx, plan, nil))
	assert.Equal(t, core.PlanFailed, plan.State)
	assert.Equal(t, 1, step.Attempts)
	assert.Contains(t, step.Error, "consent token required")

	// A token missing the scope is denied without retries.
	plan, step = newGuardedPlan("wrong scope")
	require.NoError(t, h.exec.Run(ctx, plan, consent.NewToken("tok", consent.ScopeReadFS)))
	assert.Equal(t, core.PlanFailed, plan.State)
	assert.Equal(t, 1, step.Attempts)
	assert.Contains(t, step.Error, "not granted")

	// The right scope lets the step through.
	plan, step = newGuardedPlan("granted")
	require.NoError(t, h.exec.Run(ctx, plan, consent.NewToken("tok", consent.ScopeWriteFS)))
	assert.Equal(t, core.PlanDone, plan.State)
	assert.Equal(t, core.StepDone, step.State)
}

func TestExecutor_GuardWaiverGrantsDeclaredScopes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	policy := consent.Policy{RequireConsent: true}
	h := newHarness(t, policy, Options{})

	h.registry.Add(tools.Registration{
		Name:   "test.guarded",
		Scopes: []string{consent.ScopeWriteFS},
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			return map[string]any{"wrote": true}, nil
		},
	})

	step := core.NewStep("waived", core.CapabilityRef{Name: "test.guarded"}, nil, nil)
	step.Guard = fastGuard(1)
	step.Guard.ConsentRequired = false
	plan, err := core.NewPlan("waiver", []*core.Step{step}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	assert.Equal(t, core.PlanDone, plan.State)
	assert.Equal(t, core.StepDone, step.State)
}

func TestExecutor_AutoConsentInjectsWildcard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	policy := consent.Policy{RequireConsent: true, AutoConsent: true}
	h := newHarness(t, policy, Options{})

	h.registry.Add(tools.Registration{
		Name:   "test.guarded",
		Scopes: []string{consent.ScopeExecShell},
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			return nil, nil
		},
	})

	step := core.NewStep("auto", core.CapabilityRef{Name: "test.guarded"}, nil, nil)
	plan, err := core.NewPlan("auto consent", []*core.Step{step}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))
	assert.Equal(t, core.PlanDone, plan.State)
}

func TestExecutor_SiblingsRunInParallel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{Concurrency: 2})

	// Unbuffered rendezvous: each invocation offers a send and a receive,
	// so the handler only returns once both siblings are in flight.
	meet := make(chan struct{})
	h.registry.Add(tools.Registration{
		Name: "test.meet",
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			select {
			case meet <- struct{}{}:
			case <-meet:
			case <-time.After(2 * time.Second):
				return nil, errors.New("sibling was never dispatched")
			}
			return nil, nil
		},
	})

	left := core.NewStep("left", core.CapabilityRef{Name: "test.meet"}, nil, nil)
	right := core.NewStep("right", core.CapabilityRef{Name: "test.meet"}, nil, nil)
	plan, err := core.NewPlan("parallel", []*core.Step{left, right}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	assert.Equal(t, core.PlanDone, plan.State)
	assert.Equal(t, core.StepDone, left.State)
	assert.Equal(t, core.StepDone, right.State)
}

func TestExecutor_ConcurrencyCapHoldsSteps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{Concurrency: 1})

	var current, peak atomic.Int32
	h.registry.Add(tools.Registration{
		Name: "test.gauge",
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			cur := current.Add(1)
			defer current.Add(-1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return nil, nil
		},
	})

	steps := []*core.Step{
		core.NewStep("one", core.CapabilityRef{Name: "test.gauge"}, nil, nil),
		core.NewStep("two", core.CapabilityRef{Name: "test.gauge"}, nil, nil),
		core.NewStep("three", core.CapabilityRef{Name: "test.gauge"}, nil, nil),
	}
	plan, err := core.NewPlan("capped", steps, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	assert.Equal(t, core.PlanDone, plan.State)
	assert.Equal(t, int32(1), peak.Load())
}

func TestExecutor_CancelStopsDispatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{Concurrency: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	h.registry.Add(tools.Registration{
		Name: "test.block",
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			close(started)
			<-release
			return map[string]any{"done": true}, nil
		},
	})

	inflight := core.NewStep("inflight", core.CapabilityRef{Name: "test.block"}, nil, nil)
	queued := core.NewStep("queued", core.CapabilityRef{Name: "test.block"}, nil, nil)
	plan, err := core.NewPlan("cancel", []*core.Step{inflight, queued}, nil)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- h.exec.Run(ctx, plan, nil) }()

	<-started
	assert.True(t, h.exec.Running(plan.ID))
	assert.True(t, h.exec.Cancel(plan.ID))
	close(release)
	require.NoError(t, <-runErr)

	// The in-flight step ran to completion; the queued one was never started.
	assert.Equal(t, core.PlanCancelled, plan.State)
	assert.Equal(t, core.StepDone, inflight.State)
	assert.Equal(t, core.StepPending, queued.State)
	assert.Zero(t, queued.Attempts)
	assert.False(t, h.exec.Running(plan.ID))

	// No terminal plan event is recorded for a cancelled run.
	assert.Equal(t, []string{
		core.EventPlanStarted,
		core.EventStepStarted, core.EventStepDone,
	}, eventTypes(t, h, plan.ID))
}

func TestExecutor_CancelUnknownPlan(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{}, Options{})

	assert.False(t, h.exec.Cancel("never-ran"))
}

func TestExecutor_ContextCancellationCancelsPlan(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{}, Options{Concurrency: 1})

	started := make(chan struct{})
	h.registry.Add(tools.Registration{
		Name: "test.slow",
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			close(started)
			time.Sleep(20 * time.Millisecond)
			return nil, nil
		},
	})

	first := core.NewStep("first", core.CapabilityRef{Name: "test.slow"}, nil, nil)
	second := core.NewStep("second", core.CapabilityRef{Name: "test.slow"}, nil, []string{first.ID})
	plan, err := core.NewPlan("ctx cancel", []*core.Step{first, second}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- h.exec.Run(ctx, plan, nil) }()

	<-started
	cancel()
	require.NoError(t, <-runErr)

	assert.Equal(t, core.PlanCancelled, plan.State)
	assert.Equal(t, core.StepPending, second.State)
}

func TestExecutor_SkippedUpstreamCascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	skipped := core.NewStep("skipped", core.CapabilityRef{Name: "test.none"}, nil, nil)
	skipped.State = core.StepSkipped
	dependent := core.NewStep("dependent", core.CapabilityRef{Name: "test.none"},
		nil, []string{skipped.ID})
	plan, err := core.NewPlan("skip cascade", []*core.Step{skipped, dependent}, nil)
	require.NoError(t, err)

	require.NoError(t, h.exec.Run(ctx, plan, nil))

	// Skipped steps count toward completion and never invoke their tool.
	assert.Equal(t, core.PlanDone, plan.State)
	assert.Equal(t, core.StepSkipped, dependent.State)
	assert.Zero(t, dependent.Attempts)
	assert.Equal(t, []string{core.EventPlanStarted, core.EventPlanDone},
		eventTypes(t, h, plan.ID))
}

func TestExecutor_RunTerminalPlanIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	plan, err := core.NewPlan("already done", nil, nil)
	require.NoError(t, err)
	plan.State = core.PlanDone

	require.NoError(t, h.exec.Run(ctx, plan, nil))
	assert.Empty(t, eventTypes(t, h, plan.ID))
}

func TestExecutor_PlanLockedRejectsSecondRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "olympus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))

	locks := store.NewRunLocks(t.TempDir())
	exec := New(st, tools.NewRegistry(tools.Env{}), consent.Policy{}, locks, Options{})

	plan, err := core.NewPlan("locked", nil, nil)
	require.NoError(t, err)

	release, err := locks.Acquire(plan.ID)
	require.NoError(t, err)
	defer func() { _ = release() }()

	require.ErrorIs(t, exec.Run(ctx, plan, nil), core.ErrPlanLocked)
}

func TestExecutor_RunByIDResumesCrashedRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	h.registry.Add(tools.Registration{
		Name: "test.echo",
		Handler: func(context.Context, tools.Env, map[string]any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	})

	first := core.NewStep("interrupted", core.CapabilityRef{Name: "test.echo"}, nil, nil)
	second := core.NewStep("next", core.CapabilityRef{Name: "test.echo"}, nil, []string{first.ID})
	plan, err := core.NewPlan("resume", []*core.Step{first, second}, nil)
	require.NoError(t, err)

	// Simulate a crash mid-attempt: the step is stuck RUNNING on disk.
	plan.State = core.PlanRunning
	first.State = core.StepRunning
	first.Attempts = 1
	first.StartedAt = core.NowMillis()
	require.NoError(t, h.store.SavePlan(ctx, plan))

	require.NoError(t, h.exec.RunByID(ctx, plan.ID, nil))

	got, err := h.store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanDone, got.State)
	// The interrupted attempt is redone, so the counter moves past it.
	assert.Equal(t, core.StepDone, got.Steps[0].State)
	assert.Equal(t, 2, got.Steps[0].Attempts)
	assert.Equal(t, core.StepDone, got.Steps[1].State)
	assert.Equal(t, 1, got.Steps[1].Attempts)
}

func TestExecutor_RunByIDTerminalPlanUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, consent.Policy{}, Options{})

	plan, err := core.NewPlan("finished", nil, nil)
	require.NoError(t, err)
	plan.State = core.PlanFailed
	require.NoError(t, h.store.SavePlan(ctx, plan))

	require.NoError(t, h.exec.RunByID(ctx, plan.ID, nil))

	got, err := h.store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanFailed, got.State)
	assert.Empty(t, eventTypes(t, h, plan.ID))
}

func TestExecutor_RunByIDUnknownPlan(t *testing.T) {
	t.Parallel()
	h := newHarness(t, consent.Policy{}, Options{})

	err := h.exec.RunByID(context.Background(), "missing", nil)
	require.ErrorIs(t, err, core.ErrPlanNotFound)
}
