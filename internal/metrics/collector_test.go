package metrics

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/store"
	_ "github.com/olympus-org/olympus/internal/store/driver/sqlite"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "olympus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))
	return st
}

func seedStore(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()

	done, err := core.NewPlan("done", []*core.Step{
		core.NewStep("a", core.CapabilityRef{Name: "fs.read"}, nil, nil),
	}, nil)
	require.NoError(t, err)
	done.State = core.PlanDone
	done.Steps[0].State = core.StepDone
	require.NoError(t, st.SavePlan(ctx, done))

	running, err := core.NewPlan("running", []*core.Step{
		core.NewStep("b", core.CapabilityRef{Name: "fs.read"}, nil, nil),
	}, nil)
	require.NoError(t, err)
	running.State = core.PlanRunning
	running.Steps[0].State = core.StepFailed
	require.NoError(t, st.SavePlan(ctx, running))

	for _, plan := range []*core.Plan{done, running} {
		ev := core.NewEvent(core.EventPlanCreated, plan.ID, nil)
		require.NoError(t, st.AppendEvent(ctx, &ev))
	}
	_, err = st.AddFact(ctx, "note", map[string]any{"text": "remember"})
	require.NoError(t, err)
}

func TestCollector_Describe(t *testing.T) {
	t.Parallel()
	collector := NewCollector("1.0.0", testStore(t), nil)

	ch := make(chan *prometheus.Desc, 16)
	collector.Describe(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	assert.Equal(t, 7, count)
}

func TestCollector_GathersCensus(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	seedStore(t, st)

	collector := NewCollector("1.2.3", st, func() int { return 1 })
	registry := NewRegistry(collector)

	expected := `
# HELP olympus_active_runs Plans currently executing in this process.
# TYPE olympus_active_runs gauge
olympus_active_runs 1
# HELP olympus_events_total Transcript events recorded.
# TYPE olympus_events_total gauge
olympus_events_total 2
# HELP olympus_facts_total Facts stored.
# TYPE olympus_facts_total gauge
olympus_facts_total 1
# HELP olympus_info Build information.
# TYPE olympus_info gauge
olympus_info{version="1.2.3"} 1
# HELP olympus_plans Plans in the store by state.
# TYPE olympus_plans gauge
olympus_plans{state="DONE"} 1
olympus_plans{state="RUNNING"} 1
# HELP olympus_steps Steps in the store by state.
# TYPE olympus_steps gauge
olympus_steps{state="DONE"} 1
olympus_steps{state="FAILED"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"olympus_active_runs", "olympus_events_total", "olympus_facts_total",
		"olympus_info", "olympus_plans", "olympus_steps"))
}

func TestNewRegistry_IncludesRuntimeCollectors(t *testing.T) {
	t.Parallel()
	registry := NewRegistry(NewCollector("1.0.0", testStore(t), nil))

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
	assert.True(t, names["olympus_uptime_seconds"])
}
