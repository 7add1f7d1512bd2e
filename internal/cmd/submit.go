package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
	"github.com/olympus-org/olympus/internal/tools"
)

// CmdSubmit creates the command that loads a plan file into the store.
func CmdSubmit() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit [flags] <plan file>",
		Short: "Save a plan from a YAML file",
		Long: `Validate a YAML plan file and save it as a DRAFT plan.

A plan file names its steps, the capability each one calls, and the
dependencies between them. Dependencies reference sibling steps by name,
by list index, or by id:

  title: fetch and store
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

The plan id is printed on success. Pass --run to execute it immediately.
`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().Bool("run", false, "execute the plan immediately after saving")
	return NewCommand(cmd, submitFlags, runSubmit)
}

var submitFlags = []commandLineFlag{consentTokenFlag, consentScopesFlag}

func runSubmit(ctx *Context, args []string) error {
	stack, err := ctx.OpenStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	plan, err := loadPlanFile(args[0], stack.Registry)
	if err != nil {
		return err
	}

	if err := stack.Store.SavePlan(ctx, plan); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	ev := core.NewEvent(core.EventPlanCreated, plan.ID, map[string]any{"title": plan.Title})
	if err := stack.Store.AppendEvent(ctx, &ev); err != nil {
		logger.Error(ctx, "Failed to append event", tag.PlanID(plan.ID), tag.Error(err))
	}

	logger.Info(ctx, "Plan submitted", tag.PlanID(plan.ID), tag.Plan(plan.Title), tag.Count(len(plan.Steps)))
	fmt.Println(plan.ID)

	if runNow, _ := ctx.Command.Flags().GetBool("run"); runNow {
		token := ctx.ConsentToken(stack.Issuer)
		if err := stack.Executor.Run(ctx.Context, plan, token); err != nil {
			return fmt.Errorf("failed to run plan %s: %w", plan.ID, err)
		}
		if plan, err = stack.Store.GetPlan(ctx, plan.ID); err != nil {
			return err
		}
		if !ctx.Quiet {
			println(runSummary(plan))
		}
		if plan.State != core.PlanDone {
			return fmt.Errorf("plan %s finished %s", plan.ID, plan.State)
		}
	}
	return nil
}

type planFileStep struct {
	Name       string         `yaml:"name"`
	Capability string         `yaml:"capability"`
	Input      map[string]any `yaml:"input"`
	Deps       []string       `yaml:"deps"`
	Guard      *planFileGuard `yaml:"guard"`
}

// planFileGuard overrides individual guard fields; unset fields keep the
// default step guard.
type planFileGuard struct {
	ConsentRequired      *bool    `yaml:"consent_required"`
	MaxRetries           *int     `yaml:"max_retries"`
	RetryBackoffMS       *int64   `yaml:"retry_backoff_ms"`
	RetryBackoffJitterMS *int64   `yaml:"retry_backoff_jitter_ms"`
	DeadlineMS           *int64   `yaml:"deadline_ms"`
	BudgetTokens         *int64   `yaml:"budget_tokens"`
	BudgetUSD            *float64 `yaml:"budget_usd"`
}

func (g *planFileGuard) apply(guard *core.Guard) {
	if g == nil {
		return
	}
	if g.ConsentRequired != nil {
		guard.ConsentRequired = *g.ConsentRequired
	}
	if g.MaxRetries != nil {
		guard.MaxRetries = *g.MaxRetries
	}
	if g.RetryBackoffMS != nil {
		guard.RetryBackoffMS = *g.RetryBackoffMS
	}
	if g.RetryBackoffJitterMS != nil {
		guard.RetryBackoffJitterMS = *g.RetryBackoffJitterMS
	}
	if g.DeadlineMS != nil {
		guard.DeadlineMS = *g.DeadlineMS
	}
	if g.BudgetTokens != nil {
		guard.BudgetTokens = *g.BudgetTokens
	}
	if g.BudgetUSD != nil {
		guard.BudgetUSD = *g.BudgetUSD
	}
}

type planFile struct {
	Title    string         `yaml:"title"`
	Metadata map[string]any `yaml:"metadata"`
	Steps    []planFileStep `yaml:"steps"`
}

// loadPlanFile parses and materializes a plan file. Capability scopes are
// filled from the registry so consent checks see what each step may touch.
func loadPlanFile(path string, registry *tools.Registry) (*core.Plan, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var file planFile
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}

	if file.Title == "" {
		return nil, core.NewValidationError("title", nil, errors.New("must not be empty"))
	}
	if len(file.Steps) == 0 {
		return nil, core.NewValidationError("steps", nil, errors.New("must contain at least one step"))
	}

	steps := make([]*core.Step, 0, len(file.Steps))
	ids := make([]string, 0, len(file.Steps))
	nameIndex := make(map[string]int, len(file.Steps))
	for i, s := range file.Steps {
		ref := core.CapabilityRef{Name: s.Capability}
		if desc, err := registry.Resolve(s.Capability); err == nil {
			ref.Scope = desc.Scopes
		}
		step := core.NewStep(s.Name, ref, s.Input, nil)
		s.Guard.apply(&step.Guard)
		steps = append(steps, step)
		ids = append(ids, step.ID)
		if _, dup := nameIndex[s.Name]; s.Name != "" && !dup {
			nameIndex[s.Name] = i
		}
	}
	for i, s := range file.Steps {
		deps, err := core.NormalizeDepRefs(resolveNamedDeps(s.Deps, nameIndex), ids)
		if err != nil {
			return nil, err
		}
		steps[i].Deps = deps
	}

	return core.NewPlan(file.Title, steps, file.Metadata)
}

// resolveNamedDeps rewrites dependencies matching a sibling step name to
// that step's index. Names win over indexes when both could match.
func resolveNamedDeps(deps []string, nameIndex map[string]int) []string {
	out := make([]string, len(deps))
	for i, dep := range deps {
		if idx, ok := nameIndex[dep]; ok {
			out[i] = strconv.Itoa(idx)
			continue
		}
		out[i] = dep
	}
	return out
}
