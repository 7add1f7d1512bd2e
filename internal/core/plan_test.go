package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlan(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		w := NewStep("write", CapabilityRef{Name: "fs.write", Scope: []string{"write_fs"}},
			map[string]any{"path": "demo/a.txt", "content": "hi"}, nil)
		r := NewStep("read", CapabilityRef{Name: "fs.read", Scope: []string{"read_fs"}},
			map[string]any{"path": "demo/a.txt"}, []string{w.ID})

		p, err := NewPlan("write then read", []*Step{w, r}, nil)
		require.NoError(t, err)

		assert.NotEmpty(t, p.ID)
		assert.Equal(t, PlanDraft, p.State)
		assert.Equal(t, p.CreatedAt, p.UpdatedAt)
		assert.Len(t, p.Steps, 2)
		assert.Equal(t, StepPending, w.State)
		assert.Equal(t, 2, w.Guard.MaxRetries)
		assert.True(t, w.Guard.ConsentRequired)
		assert.Equal(t, int64(250), w.Guard.RetryBackoffMS)
		assert.Equal(t, int64(200), w.Guard.RetryBackoffJitterMS)
	})

	t.Run("CycleRejected", func(t *testing.T) {
		a := NewStep("a", CapabilityRef{Name: "fs.read"}, nil, nil)
		b := NewStep("b", CapabilityRef{Name: "fs.read"}, nil, []string{a.ID})
		a.Deps = []string{b.ID}

		_, err := NewPlan("cyclic", []*Step{a, b}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCycleDetected)
	})

	t.Run("SelfCycleRejected", func(t *testing.T) {
		a := NewStep("a", CapabilityRef{Name: "fs.read"}, nil, nil)
		a.Deps = []string{a.ID}

		_, err := NewPlan("self", []*Step{a}, nil)
		assert.ErrorIs(t, err, ErrCycleDetected)
	})

	t.Run("UnknownDepRejected", func(t *testing.T) {
		a := NewStep("a", CapabilityRef{Name: "fs.read"}, nil, []string{"no-such-step"})

		_, err := NewPlan("dangling", []*Step{a}, nil)
		require.Error(t, err)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("DepsDeduped", func(t *testing.T) {
		a := NewStep("a", CapabilityRef{Name: "fs.read"}, nil, nil)
		b := NewStep("b", CapabilityRef{Name: "fs.read"}, nil, []string{a.ID, a.ID, a.ID})

		p, err := NewPlan("dedup", []*Step{a, b}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID}, p.Steps[1].Deps)
	})
}

func TestPlanRunnableSteps(t *testing.T) {
	a := NewStep("a", CapabilityRef{Name: "fs.write"}, nil, nil)
	b := NewStep("b", CapabilityRef{Name: "fs.read"}, nil, []string{a.ID})
	c := NewStep("c", CapabilityRef{Name: "fs.read"}, nil, []string{a.ID})
	p, err := NewPlan("fanout", []*Step{a, b, c}, nil)
	require.NoError(t, err)

	runnable := p.RunnableSteps()
	require.Len(t, runnable, 1)
	assert.Equal(t, a.ID, runnable[0].ID)

	a.MarkDone(map[string]any{"ok": true})
	runnable = p.RunnableSteps()
	require.Len(t, runnable, 2)

	// BLOCKED steps with satisfied deps are also ready.
	b.State = StepBlocked
	runnable = p.RunnableSteps()
	assert.Len(t, runnable, 2)

	b.MarkDone(nil)
	c.MarkFailed("boom")
	assert.False(t, p.AllDone())
	assert.True(t, p.AnyFailed())

	c.State = StepSkipped
	assert.True(t, p.AllDone())
}

func TestStepTransitions(t *testing.T) {
	s := NewStep("s", CapabilityRef{Name: "shell.run"}, map[string]any{"cmd": "true"}, nil)

	s.MarkRunning()
	assert.Equal(t, StepRunning, s.State)
	assert.NotZero(t, s.StartedAt)

	s.MarkFailed("exit 1")
	assert.Equal(t, StepFailed, s.State)
	assert.Equal(t, "exit 1", s.Error)
	assert.NotZero(t, s.EndedAt)

	s.MarkDone(map[string]any{"exit_code": 0})
	assert.Equal(t, StepDone, s.State)
	assert.Empty(t, s.Error)
}

func TestNormalizeDepRefs(t *testing.T) {
	ids := []string{"id-0", "id-1", "id-2"}

	t.Run("IndexRefs", func(t *testing.T) {
		deps, err := NormalizeDepRefs([]string{"0", "2"}, ids)
		require.NoError(t, err)
		assert.Equal(t, []string{"id-0", "id-2"}, deps)
	})

	t.Run("LiteralIDs", func(t *testing.T) {
		deps, err := NormalizeDepRefs([]string{"id-1"}, ids)
		require.NoError(t, err)
		assert.Equal(t, []string{"id-1"}, deps)
	})

	t.Run("MixedAndDeduped", func(t *testing.T) {
		deps, err := NormalizeDepRefs([]string{"1", "id-1", "0"}, ids)
		require.NoError(t, err)
		assert.Equal(t, []string{"id-1", "id-0"}, deps)
	})

	t.Run("UnknownRef", func(t *testing.T) {
		_, err := NormalizeDepRefs([]string{"9"}, ids)
		require.Error(t, err)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)

		_, err = NormalizeDepRefs([]string{"bogus"}, ids)
		assert.Error(t, err)
	})
}

func TestStatusTokens(t *testing.T) {
	t.Run("PlanRoundTrip", func(t *testing.T) {
		for _, s := range []PlanStatus{PlanDraft, PlanQueued, PlanRunning, PlanPaused, PlanDone, PlanFailed, PlanCancelled} {
			parsed, err := ParsePlanStatus(s.String())
			require.NoError(t, err)
			assert.Equal(t, s, parsed)
		}
	})

	t.Run("StepRoundTrip", func(t *testing.T) {
		for _, s := range []StepStatus{StepPending, StepRunning, StepBlocked, StepDone, StepFailed, StepSkipped} {
			parsed, err := ParseStepStatus(s.String())
			require.NoError(t, err)
			assert.Equal(t, s, parsed)
		}
	})

	t.Run("JSONUsesCanonicalTokens", func(t *testing.T) {
		s := NewStep("s", CapabilityRef{Name: "fs.read"}, nil, nil)
		data, err := json.Marshal(s)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"state":"PENDING"`)

		var decoded Step
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, StepPending, decoded.State)
	})

	t.Run("UnknownTokenRejected", func(t *testing.T) {
		_, err := ParsePlanStatus("SLEEPING")
		assert.Error(t, err)
	})
}

func TestPlanTerminalChecks(t *testing.T) {
	assert.True(t, PlanDone.IsTerminal())
	assert.True(t, PlanFailed.IsTerminal())
	assert.True(t, PlanCancelled.IsTerminal())
	assert.False(t, PlanRunning.IsTerminal())
	assert.True(t, PlanRunning.IsActive())
	assert.True(t, StepDone.IsSuccess())
	assert.True(t, StepSkipped.IsSuccess())
	assert.False(t, StepFailed.IsSuccess())
	assert.True(t, StepFailed.IsFinished())
}

func TestTerminalErrKinds(t *testing.T) {
	assert.True(t, Terminal(ErrPathEscape))
	assert.True(t, Terminal(ErrSymlinkForbidden))
	assert.True(t, Terminal(ErrConsentDenied))
	assert.True(t, Terminal(ErrConsentRequired))
	assert.True(t, Terminal(ErrUnknownCapability))
	assert.True(t, Terminal(ErrModelNotAllowed))
	assert.True(t, Terminal(NewValidationError("deps", "x", ErrStepNotFound)))
	assert.False(t, Terminal(ErrToolFailed))
	assert.False(t, Terminal(ErrTimeout))
	assert.False(t, Terminal(ErrDeadlineExceeded))
}
