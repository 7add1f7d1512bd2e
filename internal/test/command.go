package test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/store"
)

// CmdTest is a helper struct to test commands.
type CmdTest struct {
	Name        string   // Name of the test.
	Args        []string // Arguments to pass to the command.
	ExpectedOut []string // Expected output to be present in the captured logs.
}

// Command is a helper struct to test commands. Configuration is driven
// entirely through OLYMPUS_* variables pointing at per-test directories.
type Command struct {
	Context       context.Context
	Cancel        context.CancelFunc
	Home          string
	LoggingOutput *SyncBuffer
}

// SetupCommand points the application home at a temp directory, forces the
// stub model backend, disables consent enforcement, and captures logging.
// Commands build their own stack from this environment, so no collaborators
// are wired here.
func SetupCommand(t *testing.T) Command {
	t.Helper()

	home := t.TempDir()
	t.Setenv("OLYMPUS_HOME", home)
	t.Setenv("OLYMPUS_SANDBOX_ROOT", filepath.Join(home, "sandbox"))
	t.Setenv("OLYMPUS_LLM_BACKEND", "stub")
	t.Setenv("OLYMPUS_REQUIRE_CONSENT", "false")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	out := &SyncBuffer{buf: new(bytes.Buffer)}
	ctx = logger.WithFixedLogger(ctx, logger.NewLogger(
		logger.WithDebug(),
		logger.WithFormat("text"),
		logger.WithWriter(out),
		logger.WithQuiet(),
	))

	return Command{Context: ctx, Cancel: cancel, Home: home, LoggingOutput: out}
}

func (th Command) RunCommand(t *testing.T, cmd *cobra.Command, testCase CmdTest) {
	t.Helper()

	cmdRoot := &cobra.Command{Use: "root"}
	cmdRoot.AddCommand(cmd)

	// Set arguments.
	cmdRoot.SetArgs(testCase.Args)

	// Run the command
	err := cmdRoot.ExecuteContext(th.Context)
	require.NoError(t, err)

	output := th.LoggingOutput.String()

	// Check if the expected output is present in the captured logs.
	for _, expectedOutput := range testCase.ExpectedOut {
		require.Contains(t, output, expectedOutput)
	}
}

// RunCommandWithError runs a command and returns the error (if any) without
// failing the test. Only argument parsing errors surface here; run errors
// exit the process.
func (th Command) RunCommandWithError(t *testing.T, cmd *cobra.Command, testCase CmdTest) error {
	t.Helper()

	cmdRoot := &cobra.Command{Use: "root"}
	cmdRoot.AddCommand(cmd)

	// Set arguments.
	cmdRoot.SetArgs(testCase.Args)

	// Run the command
	err := cmdRoot.ExecuteContext(th.Context)

	if err == nil {
		output := th.LoggingOutput.String()
		for _, expectedOutput := range testCase.ExpectedOut {
			if len(expectedOutput) > 0 {
				require.Contains(t, output, expectedOutput)
			}
		}
	}

	return err
}

// DBPath returns the database file commands resolve from the test home.
func (th Command) DBPath() string {
	return filepath.Join(th.Home, "data", "olympus.db")
}

// CreatePlanFile writes a plan YAML under the test home for submit tests.
func (th Command) CreatePlanFile(t *testing.T, name string, content string) string {
	t.Helper()

	planFile := filepath.Join(th.Home, "plans", name)
	err := os.MkdirAll(filepath.Dir(planFile), 0750)
	require.NoError(t, err)
	err = os.WriteFile(planFile, []byte(content), 0600)
	require.NoError(t, err)
	return planFile
}

// SavePlan persists a plan into the store the commands will open.
func (th Command) SavePlan(t *testing.T, plan *core.Plan) {
	t.Helper()

	st, err := store.Open(th.Context, th.DBPath())
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	require.NoError(t, st.EnsureSchema(th.Context))
	require.NoError(t, st.SavePlan(th.Context, plan))
}

// GetPlan loads a plan back from the store after a command ran.
func (th Command) GetPlan(t *testing.T, id string) *core.Plan {
	t.Helper()

	st, err := store.Open(th.Context, th.DBPath())
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	plan, err := st.GetPlan(th.Context, id)
	require.NoError(t, err)
	return plan
}

// SyncBuffer is a goroutine safe buffer for captured log output.
type SyncBuffer struct {
	buf  *bytes.Buffer
	lock sync.Mutex
}

func (b *SyncBuffer) Write(p []byte) (n int, err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}
