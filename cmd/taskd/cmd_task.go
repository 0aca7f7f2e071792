package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskd/internal/api"
	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/task"
)

var taskHwd = &TaskRunner{}

type TaskRunner struct{}

func (r *TaskRunner) cmd() *cli.Command {
	idArg := "<task-id>"
	return &cli.Command{
		Name:  "task",
		Usage: "Manage tasks on a running taskd server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Server address; defaults to server.bind from the config",
				Sources: cli.EnvVars("TASKD_ADDR"),
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Bearer token; defaults to server.api_key from the config",
				Sources: cli.EnvVars("TASKD_API_KEY"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print raw JSON instead of tables",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a task from flags or a JSON spec file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "JSON task spec, '-' for stdin"},
					&cli.StringFlag{Name: "name", Usage: "Task name"},
					&cli.StringFlag{Name: "type", Usage: "script, agent, reminder, command or webhook"},
					&cli.StringFlag{Name: "cron", Usage: "5-field cron expression"},
					&cli.StringFlag{Name: "metadata", Aliases: []string{"m"}, Usage: "Metadata as a JSON object"},
					&cli.IntFlag{Name: "retries", Usage: "Max retries after a failure"},
					&cli.StringSliceFlag{Name: "after", Usage: "Upstream task id (repeatable)"},
					&cli.StringFlag{Name: "mode", Usage: "Dependency mode: all or any", Value: string(task.ModeAll)},
					&cli.StringFlag{Name: "on-failure", Usage: "Upstream failure policy: skip or run", Value: string(task.OnFailureSkip)},
					&cli.BoolFlag{Name: "paused", Usage: "Create the task disabled"},
				},
				Action: r.create,
			},
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "Only tasks of this type"},
					&cli.StringFlag{Name: "enabled", Usage: "true or false"},
				},
				Action: r.list,
			},
			{Name: "get", Usage: "Show one task", ArgsUsage: idArg, Action: r.get},
			{Name: "cancel", Usage: "Delete a task", ArgsUsage: idArg, Action: r.cancel},
			{Name: "pause", Usage: "Disable a task", ArgsUsage: idArg, Action: r.pause},
			{Name: "resume", Usage: "Enable a task", ArgsUsage: idArg, Action: r.resume},
			{Name: "run", Usage: "Fire a task now", ArgsUsage: idArg, Action: r.run},
			{
				Name:      "update",
				Usage:     "Patch a task with a JSON object",
				ArgsUsage: idArg + " <json-patch>",
				Action:    r.update,
			},
			{
				Name:  "export",
				Usage: "Write every task as a versioned JSON document",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file, stdout when empty"},
				},
				Action: r.export,
			},
			{
				Name:      "import",
				Usage:     "Load an exported document",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "replace", Usage: "Cancel every existing task first"},
				},
				Action: r.importDoc,
			},
			{Name: "stats", Usage: "Show scheduler statistics", Action: r.stats},
			{
				Name:  "history",
				Usage: "Show recent executions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "task", Usage: "Only this task id"},
					&cli.IntFlag{Name: "limit", Usage: "Max records", Value: 20},
				},
				Action: r.history,
			},
			{
				Name:      "timezone",
				Usage:     "Show the scheduler timezone, or set it when an argument is given",
				ArgsUsage: "[tz]",
				Action:    r.timezone,
			},
		},
	}
}

func (r *TaskRunner) client(cmd *cli.Command) (*api.Client, error) {
	addr, key := cmd.String("addr"), cmd.String("api-key")
	if addr == "" || key == "" {
		cfg, err := config.Load(cmd.String("config"))
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if addr == "" {
			addr = cfg.Server.Bind
		}
		if key == "" {
			key = cfg.Server.APIKey
		}
	}
	return api.NewClient(addr, key, 0)
}

func taskID(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.Args().First())
	if id == "" {
		return "", errors.New("task id is required")
	}
	return id, nil
}

func (r *TaskRunner) create(ctx context.Context, cmd *cli.Command) error {
	spec, err := specFromFlags(cmd)
	if err != nil {
		return err
	}
	c, err := r.client(cmd)
	if err != nil {
		return err
	}
	t, err := c.CreateTask(ctx, *spec)
	if err != nil {
		return err
	}
	return printTask(cmd, t)
}

func specFromFlags(cmd *cli.Command) (*cronjob.TaskSpec, error) {
	spec := &cronjob.TaskSpec{}
	if path := cmd.String("file"); path != "" {
		raw, err := readInput(path)
		if err != nil {
			return nil, err
		}
		if err := sonic.Unmarshal(raw, spec); err != nil {
			return nil, fmt.Errorf("parse task spec %s: %w", path, err)
		}
	}

	if v := cmd.String("name"); v != "" {
		spec.Name = v
	}
	if v := cmd.String("type"); v != "" {
		spec.Type = task.Type(v)
	}
	if v := cmd.String("cron"); v != "" {
		spec.CronExpression = v
	}
	if v := cmd.String("metadata"); v != "" {
		if err := sonic.UnmarshalString(v, &spec.Metadata); err != nil {
			return nil, fmt.Errorf("parse --metadata: %w", err)
		}
	}
	if n := int(cmd.Int("retries")); n > 0 {
		spec.RetryConfig = &task.RetryConfig{MaxRetries: n}
	}
	if ups := cmd.StringSlice("after"); len(ups) > 0 {
		spec.Dependencies = &task.Dependencies{
			TaskIDs:   ups,
			Mode:      task.DependencyMode(cmd.String("mode")),
			OnFailure: task.FailurePolicy(cmd.String("on-failure")),
		}
	}
	if cmd.Bool("paused") {
		disabled := false
		spec.Enabled = &disabled
	}

	if spec.Name == "" || spec.Type == "" {
		return nil, errors.New("--name and --type are required (or --file)")
	}
	return spec, nil
}

func (r *TaskRunner) list(ctx context.Context, cmd *cli.Command) error {
	var enabled *bool
	switch strings.ToLower(cmd.String("enabled")) {
	case "":
	case "true", "yes", "1":
		v := true
		enabled = &v
	case "false", "no", "0":
		v := false
		enabled = &v
	default:
		return fmt.Errorf("--enabled must be true or false")
	}

	c, err := r.client(cmd)
	if err != nil {
		return err
	}
	tasks, err := c.ListTasks(ctx, task.Type(cmd.String("type")), enabled)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return printJSON(tasks)
	}
	tz, _ := c.Timezone(ctx)
	fmt.Println(cronjob.FormatTaskList(tasks, location(tz)))
	return nil
}

func (r *TaskRunner) get(ctx context.Context, cmd *cli.Command) error {
	return r.withTask(ctx, cmd, func(c *api.Client, id string) (*task.ScheduledTask, error) {
		return c.GetTask(ctx, id)
	})
}

func (r *TaskRunner) pause(ctx context.Context, cmd *cli.Command) error {
	return r.withTask(ctx, cmd, func(c *api.Client, id string) (*task.ScheduledTask, error) {
		return c.PauseTask(ctx, id)
	})
}

func (r *TaskRunner) resume(ctx context.Context, cmd *cli.Command) error {
	return r.withTask(ctx, cmd, func(c *api.Client, id string) (*task.ScheduledTask, error) {
		return c.ResumeTask(ctx, id)
	})
}

func (r *TaskRunner) update(ctx context.Context, cmd *cli.Command) error {
	raw := strings.TrimSpace(cmd.Args().Get(1))
	if raw == "" {
		return errors.New("a JSON patch is required, e.g. '{\"cronExpression\":\"0 3 * * *\"}'")
	}
	var patch cronjob.TaskPatch
	if err := sonic.UnmarshalString(raw, &patch); err != nil {
		return fmt.Errorf("parse patch: %w", err)
	}
	return r.withTask(ctx, cmd, func(c *api.Client, id string) (*task.ScheduledTask, error) {
		return c.UpdateTask(ctx, id, patch)
	})
}

func (r *TaskRunner) withTask(ctx context.Context, cmd *cli.Command, fn func(c *api.Client, id string) (*task.ScheduledTask, error)) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}
	c, err := r.client(cmd)
	if err != nil {
		return err
	}
	t, err := fn(c, id)
	if err != nil {
		return err
	}
	return printTask(cmd, t)
}

func (r *TaskRunner) cancel(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}
	c, err := r.client(cmd)
	if err != nil {
		return err
	}
	if err := c.CancelTask(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Cancelled %s\n", id)
	return nil
}

func (r *TaskRunner) run(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}
	c, err := r.client(cmd)
	if err != nil {
		return err
	}
	if err := c.RunTask(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Triggered %s; see `taskd task history --task %s` for the outcome\n", id, id)
	return nil
}

func (r *TaskRunner) export(ctx context.Context, cmd *cli.Command) error {
	c, err := r.client(cmd)
	if err != nil {
		return err
	}
	doc, err := c.Export(ctx)
	if err != nil {
		return err
	}
	raw, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	out := cmd.String("out")
	if out == "" {
		fmt.Println(string(raw))
		return nil
	}
	if err := os.WriteFile(out, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("Exported %d task(s) to %s\n", len(doc.Tasks), out)
	return nil
}

func (r *TaskRunner) importDoc(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("document file is required")
	}
	raw, err := readInput(path)
	if err != nil {
		return err
	}
	var doc task.Document
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse document %s: %w", path, err)
	}

	c, err := r.client(cmd)
	if err != nil {
		return err
	}
	report, err := c.Import(ctx, &doc, !cmd.Bool("replace"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return printJSON(report)
	}
	fmt.Println(formatImportReport(report))
	return nil
}

func (r *TaskRunner) stats(ctx context.Context, cmd *cli.Command) error {
	c, err := r.client(cmd)
	if err != nil {
		return err
	}
	s, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return printJSON(s)
	}
	fmt.Println(formatStats(s))
	return nil
}

func (r *TaskRunner) history(ctx context.Context, cmd *cli.Command) error {
	c, err := r.client(cmd)
	if err != nil {
		return err
	}
	results, err := c.History(ctx, cmd.String("task"), int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return printJSON(results)
	}
	tz, _ := c.Timezone(ctx)
	fmt.Println(cronjob.FormatHistory(results, location(tz)))
	return nil
}

func (r *TaskRunner) timezone(ctx context.Context, cmd *cli.Command) error {
	c, err := r.client(cmd)
	if err != nil {
		return err
	}
	var tz string
	if want := strings.TrimSpace(cmd.Args().First()); want != "" {
		tz, err = c.SetTimezone(ctx, want)
	} else {
		tz, err = c.Timezone(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Println(tz)
	return nil
}
