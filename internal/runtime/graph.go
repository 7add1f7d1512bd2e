package runtime

import (
	"fmt"

	"github.com/olympus-org/olympus/internal/core"
)

// ExecutionGraph holds the dependency edges of a plan's steps. The adjacency
// maps are immutable after construction; step states are read through the
// shared *core.Step values, so callers must hold the run lock while calling
// the state-derived methods.
type ExecutionGraph struct {
	steps []*core.Step
	byID  map[string]*core.Step

	// From maps a step id to the ids that depend on it; To maps a step id
	// to its dependencies.
	From map[string][]string
	To   map[string][]string
}

// NewExecutionGraph builds the edge maps for the given steps and verifies
// the dependency relation is a DAG. A dependency naming no sibling returns
// core.ErrStepNotFound; a cycle returns core.ErrCycleDetected.
func NewExecutionGraph(steps []*core.Step) (*ExecutionGraph, error) {
	g := &ExecutionGraph{
		steps: steps,
		byID:  make(map[string]*core.Step, len(steps)),
		From:  make(map[string][]string),
		To:    make(map[string][]string),
	}
	for _, step := range steps {
		g.byID[step.ID] = step
	}
	for _, step := range steps {
		for _, dep := range step.Deps {
			if _, ok := g.byID[dep]; !ok {
				return nil, fmt.Errorf("%w: dependency %s of step %s", core.ErrStepNotFound, dep, step.ID)
			}
			g.From[dep] = append(g.From[dep], step.ID)
			g.To[step.ID] = append(g.To[step.ID], dep)
		}
	}
	if g.hasCycle() {
		return nil, core.ErrCycleDetected
	}
	return g, nil
}

// hasCycle runs Kahn's algorithm over the edge maps; any node left with a
// positive in-degree sits on a cycle.
func (g *ExecutionGraph) hasCycle() bool {
	inDegrees := make(map[string]int, len(g.steps))
	for id, deps := range g.To {
		inDegrees[id] = len(deps)
	}

	var q []string
	for _, step := range g.steps {
		if inDegrees[step.ID] == 0 {
			q = append(q, step.ID)
		}
	}

	for len(q) > 0 {
		var f string
		f, q = q[0], q[1:]
		for _, to := range g.From[f] {
			inDegrees[to]--
			if inDegrees[to] == 0 {
				q = append(q, to)
			}
		}
	}

	for _, degree := range inDegrees {
		if degree > 0 {
			return true
		}
	}
	return false
}

// Step returns the step with the given id, or nil.
func (g *ExecutionGraph) Step(id string) *core.Step {
	return g.byID[id]
}

// Size returns the number of steps in the graph.
func (g *ExecutionGraph) Size() int {
	return len(g.steps)
}

// Ready returns the steps eligible for dispatch: PENDING or BLOCKED with
// every dependency DONE. Order follows the submitted step order.
func (g *ExecutionGraph) Ready() []*core.Step {
	var out []*core.Step
	for _, step := range g.steps {
		if !isDispatchable(step.State) {
			continue
		}
		if g.depsDone(step) {
			out = append(out, step)
		}
	}
	return out
}

// UpstreamSkipped returns undispatched steps that can never become ready
// because a dependency was skipped. Failed dependencies are excluded: a
// failed step fails the whole plan, so its dependents keep their state.
func (g *ExecutionGraph) UpstreamSkipped() []*core.Step {
	var out []*core.Step
	for _, step := range g.steps {
		if !isDispatchable(step.State) {
			continue
		}
		skipped, failed := false, false
		for _, dep := range g.To[step.ID] {
			switch g.byID[dep].State {
			case core.StepSkipped:
				skipped = true
			case core.StepFailed:
				failed = true
			}
		}
		if skipped && !failed {
			out = append(out, step)
		}
	}
	return out
}

// RunningCount returns the number of steps currently marked RUNNING.
func (g *ExecutionGraph) RunningCount() int {
	count := 0
	for _, step := range g.steps {
		if step.State == core.StepRunning {
			count++
		}
	}
	return count
}

// Finished reports whether every step reached a terminal state.
func (g *ExecutionGraph) Finished() bool {
	for _, step := range g.steps {
		if !step.State.IsFinished() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether at least one step is FAILED.
func (g *ExecutionGraph) AnyFailed() bool {
	for _, step := range g.steps {
		if step.State == core.StepFailed {
			return true
		}
	}
	return false
}

// FailedIDs returns the ids of all FAILED steps in submitted order.
func (g *ExecutionGraph) FailedIDs() []string {
	var out []string
	for _, step := range g.steps {
		if step.State == core.StepFailed {
			out = append(out, step.ID)
		}
	}
	return out
}

func (g *ExecutionGraph) depsDone(step *core.Step) bool {
	for _, dep := range g.To[step.ID] {
		if g.byID[dep].State != core.StepDone {
			return false
		}
	}
	return true
}

func isDispatchable(s core.StepStatus) bool {
	return s == core.StepPending || s == core.StepBlocked
}
