package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
)

// CmdRun creates the command that drives a stored plan to a terminal state.
func CmdRun() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "run [flags] <plan-id>",
			Short: "Execute a stored plan",
			Long: `Run the plan with the given id until every step reaches a terminal state.

Steps execute in dependency order with the configured concurrency; failed
steps retry per their guard. Capabilities that demand consent scopes need a
token carrying those scopes:

  olympus run 4f7c... --consent-token=approved --consent-scopes=write_fs

The command exits non-zero when the plan ends FAILED or CANCELLED.
`,
			Args: cobra.ExactArgs(1),
		}, runCmdFlags, runRun,
	)
}

var runCmdFlags = []commandLineFlag{consentTokenFlag, consentScopesFlag}

func runRun(ctx *Context, args []string) error {
	stack, err := ctx.OpenStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	planID := args[0]
	token := ctx.ConsentToken(stack.Issuer)

	logger.Info(ctx, "Executing plan", tag.PlanID(planID))

	if err := stack.Executor.RunByID(ctx, planID, token); err != nil {
		return fmt.Errorf("failed to run plan %s: %w", planID, err)
	}

	plan, err := stack.Store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}

	if !ctx.Quiet {
		println(runSummary(plan))
	}

	if plan.State != core.PlanDone {
		return fmt.Errorf("plan %s finished %s", plan.ID, plan.State)
	}
	return nil
}
