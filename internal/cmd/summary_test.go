package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olympus-org/olympus/internal/core"
)

func TestRunSummary(t *testing.T) {
	t.Parallel()

	step := core.NewStep("fetch", core.CapabilityRef{Name: "net.http_get"}, nil, nil)
	step.MarkRunning()
	step.MarkDone(map[string]any{"status": 200})

	plan, err := core.NewPlan("daily fetch", []*core.Step{step}, nil)
	require.NoError(t, err)
	plan.State = core.PlanDone

	out := runSummary(plan)
	require.Contains(t, out, "Summary ->")
	require.Contains(t, out, "Details ->")
	require.Contains(t, out, plan.ID)
	require.Contains(t, out, "daily fetch")
	require.Contains(t, out, "fetch")
	require.Contains(t, out, "net.http_get")
	require.Contains(t, out, "DONE")
}

func TestRenderPlanList(t *testing.T) {
	t.Parallel()

	var plans []*core.Plan
	for _, title := range []string{"first plan", "second plan"} {
		step := core.NewStep("noop", core.CapabilityRef{Name: "fs.list"}, nil, nil)
		plan, err := core.NewPlan(title, []*core.Step{step}, nil)
		require.NoError(t, err)
		plans = append(plans, plan)
	}

	out := renderPlanList(plans)
	require.Contains(t, out, "first plan")
	require.Contains(t, out, "second plan")
	require.Contains(t, out, plans[0].ID)
	require.Contains(t, out, "DRAFT")
}

func TestFormatMillis(t *testing.T) {
	t.Parallel()

	require.Equal(t, "-", formatMillis(0))

	got := formatMillis(core.NowMillis())
	_, err := time.Parse(time.RFC3339, got)
	require.NoError(t, err)
}
