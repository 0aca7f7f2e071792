package cronjob

import (
	"fmt"
	"strings"
	"time"

	"github.com/tgifai/taskd/internal/pkg/utils"
	"github.com/tgifai/taskd/internal/task"
)

// FormatTaskList renders tasks as a plain-text table for terminals and
// chat replies.
func FormatTaskList(tasks []*task.ScheduledTask, loc *time.Location) string {
	if len(tasks) == 0 {
		return "No scheduled tasks."
	}
	if loc == nil {
		loc = time.UTC
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-36s  %-24s  %-8s  %-16s  %-7s  %-16s  %s\n",
		"ID", "NAME", "TYPE", "SCHEDULE", "STATE", "NEXT RUN", "RUNS")
	for _, t := range tasks {
		schedule := t.CronExpression
		switch {
		case t.DependencyOnly() && t.Dependencies == nil:
			schedule = "manual"
		case t.DependencyOnly():
			schedule = "after " + dependsSummary(t)
		}
		state := "enabled"
		if !t.Enabled {
			state = "paused"
		}
		next := "-"
		if t.NextRun != nil {
			next = t.NextRun.In(loc).Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&sb, "%-36s  %-24s  %-8s  %-16s  %-7s  %-16s  %d\n",
			t.ID, utils.Truncate(t.Name, 24), t.Type, utils.Truncate(schedule, 16), state, next, t.RunCount)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func dependsSummary(t *task.ScheduledTask) string {
	if t.Dependencies == nil {
		return "-"
	}
	return fmt.Sprintf("%s(%d)", t.Dependencies.Mode, len(t.Dependencies.TaskIDs))
}

// FormatHistory renders execution results, most recent first.
func FormatHistory(results []task.ExecutionResult, loc *time.Location) string {
	if len(results) == 0 {
		return "No executions recorded."
	}
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder
	for _, r := range results {
		status := "ok"
		detail := r.Result
		if !r.Success {
			status = "FAIL"
			detail = r.Error
		}
		fmt.Fprintf(&sb, "%s  %-36s  #%d  %-4s  %6dms  %s\n",
			r.ExecutedAt.In(loc).Format(time.DateTime), r.TaskID, r.Attempt, status, r.DurationMs,
			utils.Truncate80(strings.ReplaceAll(detail, "\n", " ")))
	}
	return strings.TrimRight(sb.String(), "\n")
}
