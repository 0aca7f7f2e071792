package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/task"
)

var (
	cLabel = color.New(color.FgCyan, color.Bold)
	cWarn  = color.New(color.FgYellow)
	cOK    = color.New(color.FgGreen)
	cDim   = color.New(color.FgHiBlack)
)

func printJSON(v any) error {
	raw, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(raw))
	return nil
}

func printTask(cmd *cli.Command, t *task.ScheduledTask) error {
	if cmd.Bool("json") {
		return printJSON(t)
	}
	fmt.Println(formatTask(t))
	return nil
}

func formatTask(t *task.ScheduledTask) string {
	var sb strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&sb, "%s %s\n", cLabel.Sprintf("%-13s", label+":"), value)
	}

	row("ID", t.ID)
	row("Name", t.Name)
	row("Type", string(t.Type))
	if t.CronExpression != "" {
		row("Schedule", t.CronExpression)
	}
	if d := t.Dependencies; d != nil {
		row("After", fmt.Sprintf("%s (mode=%s, onFailure=%s)", strings.Join(d.TaskIDs, ", "), d.Mode, d.OnFailure))
	}
	if t.Enabled {
		row("State", cOK.Sprint("enabled"))
	} else {
		row("State", cWarn.Sprint("paused"))
	}
	row("Next run", formatTime(t.NextRun))
	row("Last run", formatTime(t.LastRun))
	row("Runs", fmt.Sprint(t.RunCount))
	if rc := t.RetryConfig; rc != nil {
		row("Retries", fmt.Sprintf("%d/%d (x%.1f from %dms)", rc.RetryCount, rc.MaxRetries, rc.BackoffMultiplier, rc.InitialDelay))
	}
	if raw, err := sonic.MarshalString(t.Metadata); err == nil && raw != "{}" {
		row("Metadata", cDim.Sprint(raw))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.Format(time.RFC3339)
}

func formatStats(s *cronjob.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d total, %d enabled, %d paused, %d dependency-only\n",
		cLabel.Sprint("Tasks:"), s.Total, s.Enabled, s.Paused, s.DependencyOnly)

	types := make([]string, 0, len(s.ByType))
	for typ, n := range s.ByType {
		types = append(types, fmt.Sprintf("%s=%d", typ, n))
	}
	sort.Strings(types)
	fmt.Fprintf(&sb, "%s %s\n", cLabel.Sprint("By type:"), strings.Join(types, " "))

	fmt.Fprintf(&sb, "%s %d running, %d retries pending, %d timers\n",
		cLabel.Sprint("Runtime:"), s.Running, s.PendingRetries, s.Timers)
	fmt.Fprintf(&sb, "%s %d recorded, %s / %s\n", cLabel.Sprint("History:"), s.HistorySize,
		cOK.Sprintf("%d ok", s.RecentSuccess), cWarn.Sprintf("%d failed", s.RecentFailure))
	if s.NextRun != nil {
		fmt.Fprintf(&sb, "%s %s (%s)\n", cLabel.Sprint("Next:"), s.NextRun.Format(time.RFC3339), s.NextTaskID)
	}
	fmt.Fprintf(&sb, "%s %s, %s %s", cLabel.Sprint("Timezone:"), s.Timezone, cLabel.Sprint("store:"), s.Backend)
	return sb.String()
}

func formatImportReport(r *cronjob.ImportReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Imported %d task(s), skipped %d, timezone %s\n", r.Imported, r.Skipped, r.Timezone)
	for from, to := range r.Remapped {
		fmt.Fprintf(&sb, "  %s %s -> %s\n", cDim.Sprint("remapped"), from, to)
	}
	for _, e := range r.Errors {
		label := e.ID
		if label == "" {
			label = fmt.Sprintf("#%d", e.Index)
		}
		fmt.Fprintf(&sb, "  %s %s: %s\n", cWarn.Sprint("skipped"), label, e.Error)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// readInput reads a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

func location(tz string) *time.Location {
	if loc, err := task.LoadLocation(tz); err == nil {
		return loc
	}
	return time.Local
}
