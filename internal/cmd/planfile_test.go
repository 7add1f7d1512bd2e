package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/tools"
)

func writePlanFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadPlanFile(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry(tools.Env{})

	t.Run("NamedDeps", func(t *testing.T) {
		t.Parallel()

		plan, err := loadPlanFile(writePlanFile(t, `title: fetch and store
steps:
  - name: fetch
    capability: net.http_get
    input:
      url: https://example.com
  - name: store
    capability: fs.write
    deps: [fetch]
    input:
      path: page.txt
      content: placeholder
`), registry)
		require.NoError(t, err)
		require.Equal(t, "fetch and store", plan.Title)
		require.Len(t, plan.Steps, 2)
		require.Equal(t, []string{plan.Steps[0].ID}, plan.Steps[1].Deps)
	})

	t.Run("IndexDeps", func(t *testing.T) {
		t.Parallel()

		plan, err := loadPlanFile(writePlanFile(t, `title: indexed
steps:
  - name: a
    capability: fs.write
  - name: b
    capability: fs.write
    deps: ["0"]
`), registry)
		require.NoError(t, err)
		require.Equal(t, []string{plan.Steps[0].ID}, plan.Steps[1].Deps)
	})

	t.Run("ScopesFilledFromRegistry", func(t *testing.T) {
		t.Parallel()

		plan, err := loadPlanFile(writePlanFile(t, `title: scoped
steps:
  - name: a
    capability: fs.write
`), registry)
		require.NoError(t, err)
		require.Equal(t, []string{consent.ScopeWriteFS}, plan.Steps[0].Capability.Scope)
	})

	t.Run("GuardOverride", func(t *testing.T) {
		t.Parallel()

		plan, err := loadPlanFile(writePlanFile(t, `title: guarded
steps:
  - name: a
    capability: fs.write
    guard:
      consent_required: false
      max_retries: 5
      deadline_ms: 1000
`), registry)
		require.NoError(t, err)

		guard := plan.Steps[0].Guard
		require.False(t, guard.ConsentRequired)
		require.Equal(t, 5, guard.MaxRetries)
		require.Equal(t, int64(1000), guard.DeadlineMS)
		// Unset fields keep the defaults.
		require.Equal(t, core.DefaultGuard().RetryBackoffMS, guard.RetryBackoffMS)
	})

	t.Run("MissingTitle", func(t *testing.T) {
		t.Parallel()

		_, err := loadPlanFile(writePlanFile(t, `steps:
  - name: a
    capability: fs.write
`), registry)
		require.Error(t, err)
		require.Contains(t, err.Error(), "title")
	})

	t.Run("NoSteps", func(t *testing.T) {
		t.Parallel()

		_, err := loadPlanFile(writePlanFile(t, `title: empty
`), registry)
		require.Error(t, err)
		require.Contains(t, err.Error(), "steps")
	})

	t.Run("UnknownDep", func(t *testing.T) {
		t.Parallel()

		_, err := loadPlanFile(writePlanFile(t, `title: broken
steps:
  - name: a
    capability: fs.write
    deps: [nope]
`), registry)
		require.Error(t, err)
		require.Contains(t, err.Error(), "unknown step reference")
	})

	t.Run("FileMissing", func(t *testing.T) {
		t.Parallel()

		_, err := loadPlanFile(filepath.Join(t.TempDir(), "absent.yaml"), registry)
		require.Error(t, err)
	})
}

func TestResolveNamedDeps(t *testing.T) {
	t.Parallel()

	nameIndex := map[string]int{"fetch": 0, "store": 1}

	got := resolveNamedDeps([]string{"fetch", "store", "2", "some-id"}, nameIndex)
	require.Equal(t, []string{"0", "1", "2", "some-id"}, got)
}
