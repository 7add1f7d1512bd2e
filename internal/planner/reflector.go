package planner

import (
	"context"
	"fmt"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
	"github.com/olympus-org/olympus/internal/runtime"
	"github.com/olympus-org/olympus/internal/store"
)

// DefaultMaxIters is how many revisions a reflection loop attempts when the
// caller does not say.
const DefaultMaxIters = 2

// Reflector runs a plan and, while it keeps failing, asks the planner for a
// revision and runs that instead. Each revision is a fresh plan linked to
// its parent through transcript events.
type Reflector struct {
	planner  *Planner
	exec     *runtime.Executor
	store    *store.Store
	maxIters int
}

// NewReflector creates a reflection loop bounded to maxIters revisions.
func NewReflector(planner *Planner, exec *runtime.Executor, st *store.Store, maxIters int) *Reflector {
	if maxIters <= 0 {
		maxIters = DefaultMaxIters
	}
	return &Reflector{planner: planner, exec: exec, store: st, maxIters: maxIters}
}

// Outcome reports where a reflection loop ended up. Iterations counts plan
// executions, so a loop that never revises reports 1.
type Outcome struct {
	Plan       *core.Plan
	Iterations int
}

// Execute proposes a plan for the goal, runs it, and revises on failure up
// to the revision bound. Failure to revise ends the loop with the last
// executed plan rather than an error; only proposing or running a plan can
// fail the call itself.
func (r *Reflector) Execute(ctx context.Context, goal string, scopes []string, token *consent.Token) (*Outcome, error) {
	plan, err := r.planner.Propose(ctx, goal, scopes)
	if err != nil {
		return nil, err
	}
	if err := r.submit(ctx, plan); err != nil {
		return nil, err
	}

	outcome := &Outcome{Plan: plan}
	for revisions := 0; ; revisions++ {
		if err := r.exec.Run(ctx, plan, token); err != nil {
			return nil, err
		}
		outcome.Plan = plan
		outcome.Iterations++

		if plan.State != core.PlanFailed || revisions >= r.maxIters {
			return outcome, nil
		}

		child, err := r.revise(ctx, goal, plan)
		if err != nil {
			logger.Warn(ctx, "Failed to revise plan, stopping reflection",
				tag.PlanID(plan.ID), tag.Error(err))
			return outcome, nil
		}
		plan = child
	}
}

// submit persists a fresh plan and records its creation.
func (r *Reflector) submit(ctx context.Context, plan *core.Plan) error {
	if err := r.store.SavePlan(ctx, plan); err != nil {
		return fmt.Errorf("failed to persist plan %s: %w", plan.ID, err)
	}
	ev := core.NewEvent(core.EventPlanCreated, plan.ID, map[string]any{"title": plan.Title})
	if err := r.store.AppendEvent(ctx, &ev); err != nil {
		logger.Error(ctx, "Failed to append event", tag.PlanID(plan.ID), tag.Error(err))
	}
	return nil
}

// revise builds a failure summary for the parent, asks the planner for a
// revision, persists it, and records the parent/child linkage on both
// transcripts.
func (r *Reflector) revise(ctx context.Context, goal string, parent *core.Plan) (*core.Plan, error) {
	summary, err := BuildFailureSummary(ctx, r.store, parent)
	if err != nil {
		return nil, err
	}
	child, err := r.planner.Reflect(ctx, goal, parent, summary)
	if err != nil {
		return nil, err
	}
	if err := r.submit(ctx, child); err != nil {
		return nil, err
	}

	revised := core.NewEvent(core.EventPlanRevised, child.ID, map[string]any{
		"parent_plan_id": parent.ID,
		"failure":        summary,
	})
	if err := r.store.AppendEvent(ctx, &revised); err != nil {
		logger.Error(ctx, "Failed to append event", tag.PlanID(child.ID), tag.Error(err))
	}
	revisedTo := core.NewEvent(core.EventPlanRevisedTo, parent.ID, map[string]any{
		"child_plan_id": child.ID,
	})
	if err := r.store.AppendEvent(ctx, &revisedTo); err != nil {
		logger.Error(ctx, "Failed to append event", tag.PlanID(parent.ID), tag.Error(err))
	}

	logger.Info(ctx, "Plan revised after failure",
		tag.PlanID(parent.ID), tag.ChildPlanID(child.ID))
	return child, nil
}
