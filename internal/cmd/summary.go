package cmd

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/olympus-org/olympus/internal/core"
)

var planHeader = table.Row{
	"ID",
	"Title",
	"State",
	"Created At",
	"Updated At",
	"Steps",
}

func renderPlanSummary(plan *core.Plan) string {
	reportTable := table.NewWriter()
	reportTable.AppendHeader(planHeader)
	reportTable.AppendRow(table.Row{
		plan.ID,
		plan.Title,
		plan.State.String(),
		formatMillis(plan.CreatedAt),
		formatMillis(plan.UpdatedAt),
		len(plan.Steps),
	})
	return reportTable.Render()
}

var stepHeader = table.Row{
	"#",
	"Step",
	"Capability",
	"State",
	"Attempts",
	"Started At",
	"Finished At",
	"Error",
}

func renderStepSummary(steps []*core.Step) string {
	stepTable := table.NewWriter()
	stepTable.AppendHeader(stepHeader)

	for i, step := range steps {
		stepTable.AppendRow(table.Row{
			fmt.Sprintf("%d", i+1),
			step.Name,
			step.Capability.Name,
			step.State.String(),
			step.Attempts,
			formatMillis(step.StartedAt),
			formatMillis(step.EndedAt),
			step.Error,
		})
	}

	return stepTable.Render()
}

// runSummary renders the post-run report: the plan's terminal state followed
// by a per-step breakdown.
func runSummary(plan *core.Plan) string {
	var buf bytes.Buffer
	_, _ = buf.Write([]byte("\n"))
	_, _ = buf.Write([]byte("Summary ->\n"))
	_, _ = buf.Write([]byte(renderPlanSummary(plan)))
	_, _ = buf.Write([]byte("\n"))
	_, _ = buf.Write([]byte("Details ->\n"))
	_, _ = buf.Write([]byte(renderStepSummary(plan.Steps)))
	return buf.String()
}

var planListHeader = table.Row{
	"ID",
	"Title",
	"State",
	"Created At",
	"Updated At",
}

func renderPlanList(plans []*core.Plan) string {
	listTable := table.NewWriter()
	listTable.AppendHeader(planListHeader)
	for _, plan := range plans {
		listTable.AppendRow(table.Row{
			plan.ID,
			plan.Title,
			plan.State.String(),
			formatMillis(plan.CreatedAt),
			formatMillis(plan.UpdatedAt),
		})
	}
	return listTable.Render()
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
