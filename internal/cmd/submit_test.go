package cmd_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olympus-org/olympus/internal/cmd"
	"github.com/olympus-org/olympus/internal/test"
)

func TestSubmitCommand(t *testing.T) {
	th := test.SetupCommand(t)

	planFile := th.CreatePlanFile(t, "notes.yaml", `title: write two notes
steps:
  - name: first
    capability: fs.write
    input:
      path: notes/one.txt
      content: alpha
  - name: second
    capability: fs.write
    deps: [first]
    input:
      path: notes/two.txt
      content: beta
`)

	tests := []test.CmdTest{
		{
			Name:        "SubmitPlan",
			Args:        []string{"submit", planFile},
			ExpectedOut: []string{"Plan submitted"},
		},
		{
			Name:        "SubmitAndRun",
			Args:        []string{"submit", "--run", planFile},
			ExpectedOut: []string{"Plan submitted", "Plan execution started", "Plan execution finished"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.Name, func(t *testing.T) {
			th.RunCommand(t, cmd.CmdSubmit(), tc)
		})
	}

	// Only the --run submission executed the steps.
	require.FileExists(t, filepath.Join(th.Home, "sandbox", "notes", "one.txt"))
	require.FileExists(t, filepath.Join(th.Home, "sandbox", "notes", "two.txt"))
}

func TestSubmitCommandRequiresFile(t *testing.T) {
	th := test.SetupCommand(t)

	err := th.RunCommandWithError(t, cmd.CmdSubmit(), test.CmdTest{
		Name: "MissingArgument",
		Args: []string{"submit"},
	})
	require.Error(t, err)
}
