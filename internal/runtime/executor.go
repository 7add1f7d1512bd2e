// Package runtime executes plans: a dependency-driven scheduler dispatches
// ready steps with bounded concurrency, a per-step controller handles
// retries, backoff, and deadlines, and every state change is persisted and
// appended to the transcript before the run proceeds.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/olympus-org/olympus/internal/backoff"
	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
	"github.com/olympus-org/olympus/internal/store"
	"github.com/olympus-org/olympus/internal/tools"
)

const (
	// DefaultConcurrency is the scheduler's parallelism when none is
	// configured.
	DefaultConcurrency = 2

	// schedulerPause is the wait between scheduling passes when nothing
	// is ready to dispatch.
	schedulerPause = 50 * time.Millisecond

	tracerName = "github.com/olympus-org/olympus/internal/runtime"
)

// Options tune a new Executor. Zero values select the defaults.
type Options struct {
	// Concurrency caps the number of steps running in parallel per plan.
	Concurrency int
	// Pause is the scheduler sleep when no step is ready.
	Pause time.Duration
}

// Executor runs plans against the tool registry and records every
// transition in the store. One Executor serves many plans; each call to
// Run drives a single plan to a terminal state.
type Executor struct {
	store    *store.Store
	registry *tools.Registry
	policy   consent.Policy
	locks    *store.RunLocks
	tracer   trace.Tracer

	concurrency int
	pause       time.Duration

	mu     sync.Mutex
	active map[string]*planRun
}

// New creates an Executor over the given collaborators.
func New(st *store.Store, registry *tools.Registry, policy consent.Policy, locks *store.RunLocks, opts Options) *Executor {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Pause <= 0 || opts.Pause > schedulerPause {
		opts.Pause = schedulerPause
	}
	return &Executor{
		store:       st,
		registry:    registry,
		policy:      policy,
		locks:       locks,
		tracer:      otel.Tracer(tracerName),
		concurrency: opts.Concurrency,
		pause:       opts.Pause,
		active:      make(map[string]*planRun),
	}
}

// Run drives the plan to a terminal state: DONE, FAILED, or CANCELLED.
// The returned error covers infrastructure problems only (the plan is
// locked, the graph is invalid, the store cannot be read); a plan that
// ends FAILED is a successful run whose outcome is on the plan itself.
//
// When token is nil and the policy allows auto consent, a wildcard token
// is injected here; this is the only place a permissive token originates.
func (e *Executor) Run(ctx context.Context, plan *core.Plan, token *consent.Token) error {
	if plan.State.IsTerminal() {
		return nil
	}

	release, err := e.locks.Acquire(plan.ID)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	graph, err := NewExecutionGraph(plan.Steps)
	if err != nil {
		return err
	}

	if token == nil {
		token = e.policy.AutoToken()
	}

	run := &planRun{exec: e, plan: plan, graph: graph, token: token}
	e.track(run)
	defer e.untrack(run)

	return run.loop(ctx)
}

// RunByID rehydrates the plan from the store and runs it. Steps left in
// RUNNING state by a previous crash are demoted to PENDING so their
// abandoned attempt is redone (at-least-once; steps whose tools are not
// naturally idempotent should carry an idempotency key in their input).
// A plan already in a terminal state is left untouched.
func (e *Executor) RunByID(ctx context.Context, planID string, token *consent.Token) error {
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan.State.IsTerminal() {
		logger.Info(ctx, "Plan already terminal, nothing to run",
			tag.PlanID(planID), tag.State(plan.State.String()))
		return nil
	}
	for _, step := range plan.Steps {
		if step.State == core.StepRunning {
			step.State = core.StepPending
		}
	}
	return e.Run(ctx, plan, token)
}

// Cancel flags the active run for the plan. The scheduler stops
// dispatching at the next pass boundary; in-flight steps run to
// completion and their outcomes are recorded. Returns false when the
// plan is not running in this process.
func (e *Executor) Cancel(planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.active[planID]
	if ok {
		run.canceled.Store(true)
	}
	return ok
}

// Running reports whether the plan is being executed by this process.
func (e *Executor) Running(planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[planID]
	return ok
}

// ActiveCount returns the number of plans this process is executing.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Executor) track(run *planRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[run.plan.ID] = run
}

func (e *Executor) untrack(run *planRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, run.plan.ID)
}

// invoke resolves and dispatches one capability for a step. The guard can
// waive the consent gate for its own step only; the waiver grants exactly
// the scopes the capability declares and applies only when the run has no
// token of its own.
func (e *Executor) invoke(ctx context.Context, step *core.Step, token *consent.Token) (map[string]any, error) {
	desc, err := e.registry.Resolve(step.Capability.Name)
	if err != nil {
		return nil, err
	}
	if !step.Guard.ConsentRequired && token == nil {
		token = consent.NewToken("guard-waived", desc.Scopes...)
	}
	return e.registry.Dispatch(ctx, desc.Name, step.Input, token)
}

// planRun is the state of one plan execution. The mutex serializes every
// step mutation with its persistence and event append, so the transcript
// order always matches the order transitions actually happened.
type planRun struct {
	exec     *Executor
	plan     *core.Plan
	graph    *ExecutionGraph
	token    *consent.Token
	canceled atomic.Bool

	mu sync.Mutex
}

// loop is the scheduler: each pass computes the ready-set, dispatches up
// to the concurrency cap, and re-evaluates. It exits when every step is
// terminal, a step has failed, or the run is canceled; in-flight steps
// are always waited for.
func (r *planRun) loop(ctx context.Context) error {
	ctx, span := r.exec.tracer.Start(ctx, "plan.run", trace.WithAttributes(
		attribute.String("plan.id", r.plan.ID),
		attribute.String("plan.title", r.plan.Title),
		attribute.Int("plan.steps", r.graph.Size()),
	))
	defer span.End()

	if err := r.begin(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var wg sync.WaitGroup
	for {
		if ctx.Err() != nil {
			r.canceled.Store(true)
		}
		if r.canceled.Load() || r.terminalPass(ctx) {
			break
		}

		dispatched := r.dispatch(ctx, &wg)
		if dispatched == 0 {
			time.Sleep(r.exec.pause)
		}
	}
	wg.Wait()

	state := r.finish(ctx)
	span.SetAttributes(attribute.String("plan.state", state.String()))
	if state == core.PlanFailed {
		span.SetStatus(codes.Error, "plan failed")
	}
	return nil
}

// begin lifts the plan to RUNNING and opens the transcript.
func (r *planRun) begin(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plan.State = core.PlanRunning
	r.plan.Touch()
	if err := r.exec.store.SavePlan(ctx, r.plan); err != nil {
		return fmt.Errorf("failed to persist plan %s: %w", r.plan.ID, err)
	}
	r.emitLocked(ctx, core.NewEvent(core.EventPlanStarted, r.plan.ID, map[string]any{
		"title": r.plan.Title,
	}))
	logger.Info(ctx, "Plan execution started",
		tag.PlanID(r.plan.ID), tag.Plan(r.plan.Title), tag.Count(r.graph.Size()))
	return nil
}

// terminalPass checks the exit conditions once per scheduling pass. A
// failed step stops dispatching immediately; steps whose upstream was
// skipped are skipped here so the plan can still terminate.
func (r *planRun) terminalPass(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if skipped := r.graph.UpstreamSkipped(); len(skipped) > 0 {
		// No transcript event type exists for skips; the persisted step
		// state is the record.
		for _, step := range skipped {
			step.State = core.StepSkipped
		}
		r.persistLocked(ctx)
	}

	return r.graph.AnyFailed() || r.graph.Finished()
}

// dispatch launches every ready step that fits under the concurrency cap.
// Steps are marked RUNNING before their goroutine starts so a later pass
// cannot dispatch them twice.
func (r *planRun) dispatch(ctx context.Context, wg *sync.WaitGroup) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	running := r.graph.RunningCount()
	dispatched := 0
	for _, step := range r.graph.Ready() {
		if running >= r.exec.concurrency {
			break
		}
		step.State = core.StepRunning
		running++
		dispatched++

		wg.Add(1)
		go func(step *core.Step) {
			defer wg.Done()
			r.runStep(ctx, step)
		}(step)
	}
	return dispatched
}

// finish computes and records the plan's terminal state after the loop
// has drained. Cancellation wins unless every step still completed.
func (r *planRun) finish(ctx context.Context) core.PlanStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.canceled.Load() && !r.plan.AllDone():
		// CANCELLED has no event type; the plan row carries the state.
		r.plan.State = core.PlanCancelled
		r.persistLocked(ctx)
	case r.graph.AnyFailed():
		r.plan.State = core.PlanFailed
		r.persistLocked(ctx)
		r.emitLocked(ctx, core.NewEvent(core.EventPlanFailed, r.plan.ID, map[string]any{
			"failed_steps": r.graph.FailedIDs(),
		}))
	default:
		r.plan.State = core.PlanDone
		r.persistLocked(ctx)
		r.emitLocked(ctx, core.NewEvent(core.EventPlanDone, r.plan.ID, nil))
	}

	logger.Info(ctx, "Plan execution finished",
		tag.PlanID(r.plan.ID), tag.State(r.plan.State.String()))
	return r.plan.State
}

// runStep is the per-step retry controller. Terminal error kinds (sandbox
// violations, consent, unknown capability) fail immediately; anything
// else retries under the step's guard until the retry budget or the
// wall-clock deadline runs out.
func (r *planRun) runStep(ctx context.Context, step *core.Step) {
	guard := step.Guard
	policy := backoff.NewJitterPolicy(
		guard.RetryBackoffMS, guard.RetryBackoffJitterMS, guard.MaxRetries, guard.DeadlineMS)
	retrier := backoff.NewRetrier(policy, func(err error) bool {
		return !core.Terminal(err)
	})
	retrier.Start()

	for {
		r.beginAttempt(ctx, step)

		output, err := r.attempt(ctx, step)
		if err == nil {
			r.completeStep(ctx, step, output)
			return
		}

		wait, stop := retrier.Next(err)
		if stop != nil {
			r.failStep(ctx, step, err)
			return
		}

		logger.Warn(ctx, "Step attempt failed, retrying",
			tag.PlanID(r.plan.ID), tag.StepID(step.ID), tag.Step(step.Name),
			tag.Attempt(step.Attempts), tag.Duration(wait), tag.Error(err))
		select {
		case <-ctx.Done():
			r.failStep(ctx, step, err)
			return
		case <-time.After(wait):
		}
	}
}

// attempt invokes the tool once under a step span.
func (r *planRun) attempt(ctx context.Context, step *core.Step) (map[string]any, error) {
	ctx, span := r.exec.tracer.Start(ctx, "step.attempt", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.name", step.Name),
		attribute.String("step.capability", step.Capability.Name),
		attribute.Int("step.attempt", step.Attempts),
	))
	defer span.End()

	output, err := r.exec.invoke(ctx, step, r.token)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return output, err
}

// beginAttempt counts the attempt, marks the step RUNNING, persists, and
// emits step.started. The start timestamp is stamped once, on the first
// attempt, because the deadline budget is measured from there.
func (r *planRun) beginAttempt(ctx context.Context, step *core.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()

	step.Attempts++
	step.State = core.StepRunning
	if step.StartedAt == 0 {
		step.StartedAt = core.NowMillis()
	}
	r.persistLocked(ctx)
	r.emitLocked(ctx, core.NewStepEvent(core.EventStepStarted, r.plan.ID, step.ID, map[string]any{
		"attempt": step.Attempts,
	}))
	logger.Info(ctx, "Step execution started",
		tag.PlanID(r.plan.ID), tag.StepID(step.ID), tag.Step(step.Name),
		tag.Capability(step.Capability.Name), tag.Attempt(step.Attempts))
}

func (r *planRun) completeStep(ctx context.Context, step *core.Step, output map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	step.MarkDone(output)
	r.persistLocked(ctx)
	r.emitLocked(ctx, core.NewStepEvent(core.EventStepDone, r.plan.ID, step.ID, map[string]any{
		"attempt": step.Attempts,
		"output":  output,
	}))
	logger.Info(ctx, "Step execution finished",
		tag.PlanID(r.plan.ID), tag.StepID(step.ID), tag.Step(step.Name),
		tag.Attempt(step.Attempts))
}

func (r *planRun) failStep(ctx context.Context, step *core.Step, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	step.MarkFailed(err.Error())
	r.persistLocked(ctx)
	r.emitLocked(ctx, core.NewStepEvent(core.EventStepFailed, r.plan.ID, step.ID, map[string]any{
		"error": err.Error(),
	}))
	logger.Error(ctx, "Step execution failed",
		tag.PlanID(r.plan.ID), tag.StepID(step.ID), tag.Step(step.Name),
		tag.Attempt(step.Attempts), tag.Error(err))
}

// persistLocked writes the plan and all steps in one transaction. The
// caller holds r.mu. Persistence failures are logged, not propagated: the
// run carries on and the next transition re-persists everything.
func (r *planRun) persistLocked(ctx context.Context) {
	r.plan.Touch()
	if err := r.exec.store.SavePlan(ctx, r.plan); err != nil {
		logger.Error(ctx, "Failed to persist plan", tag.PlanID(r.plan.ID), tag.Error(err))
	}
}

// emitLocked appends one transcript event. Events follow their persisted
// state change, so a crash between the two is recovered by recomputing
// the ready-set from rows.
func (r *planRun) emitLocked(ctx context.Context, ev core.Event) {
	if err := r.exec.store.AppendEvent(ctx, &ev); err != nil {
		logger.Error(ctx, "Failed to append event",
			tag.PlanID(r.plan.ID), tag.Error(err))
	}
}
