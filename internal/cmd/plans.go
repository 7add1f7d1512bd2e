package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// CmdPlans creates the plan inspection command group.
func CmdPlans() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Inspect stored plans",
		Long:  `List stored plans or show one plan with its steps.`,
	}
	cmd.AddCommand(cmdPlansList())
	cmd.AddCommand(cmdPlansGet())
	return cmd
}

func cmdPlansList() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "list [flags]",
			Short: "List stored plans, newest first",
		}, plansListFlags, runPlansList,
	)
}

var plansListFlags = []commandLineFlag{limitFlag}

func runPlansList(ctx *Context, _ []string) error {
	stack, err := ctx.OpenStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	raw, err := ctx.StringParam("limit")
	if err != nil {
		return err
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return fmt.Errorf("limit must be a positive integer, got %q", raw)
	}

	plans, err := stack.Store.ListPlans(ctx, limit)
	if err != nil {
		return err
	}

	println(renderPlanList(plans))
	return nil
}

func cmdPlansGet() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "get <plan-id>",
			Short: "Show one plan with its steps",
			Args:  cobra.ExactArgs(1),
		}, nil, runPlansGet,
	)
}

func runPlansGet(ctx *Context, args []string) error {
	stack, err := ctx.OpenStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	plan, err := stack.Store.GetPlan(ctx, args[0])
	if err != nil {
		return err
	}

	println(runSummary(plan))
	return nil
}
