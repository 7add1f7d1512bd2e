package cmd_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olympus-org/olympus/internal/cmd"
	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/test"
)

func TestRunCommand(t *testing.T) {
	th := test.SetupCommand(t)

	first := core.NewStep("first", core.CapabilityRef{
		Name:  "fs.write",
		Scope: []string{consent.ScopeWriteFS},
	}, map[string]any{
		"path":    "run/one.txt",
		"content": "alpha",
	}, nil)
	second := core.NewStep("second", core.CapabilityRef{
		Name:  "fs.write",
		Scope: []string{consent.ScopeWriteFS},
	}, map[string]any{
		"path":    "run/two.txt",
		"content": "beta",
	}, []string{first.ID})

	plan, err := core.NewPlan("write two notes", []*core.Step{first, second}, nil)
	require.NoError(t, err)
	th.SavePlan(t, plan)

	tests := []test.CmdTest{
		{
			Name:        "RunPlan",
			Args:        []string{"run", plan.ID},
			ExpectedOut: []string{"Executing plan", "Step execution finished", "Plan execution finished"},
		},
		{
			Name:        "RunTerminalPlan",
			Args:        []string{"run", plan.ID},
			ExpectedOut: []string{"Plan already terminal, nothing to run"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.Name, func(t *testing.T) {
			th.RunCommand(t, cmd.CmdRun(), tc)
		})
	}

	got := th.GetPlan(t, plan.ID)
	require.Equal(t, core.PlanDone, got.State)
	require.FileExists(t, filepath.Join(th.Home, "sandbox", "run", "two.txt"))
}
