package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskd/internal/task"
)

var cronHwd = &CronRunner{}

type CronRunner struct{}

func (r *CronRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "cron",
		Usage: "Cron expression tools that work without a server",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Check a 5-field expression and list its next runs",
				ArgsUsage: "<expression>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tz", Usage: "IANA timezone", Value: "UTC"},
					&cli.IntFlag{Name: "n", Usage: "Number of upcoming runs", Value: 5},
					&cli.BoolFlag{Name: "json", Usage: "Print raw JSON"},
				},
				Action: r.validate,
			},
		},
	}
}

func (r *CronRunner) validate(_ context.Context, cmd *cli.Command) error {
	expr := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if expr == "" {
		return errors.New("cron expression is required, e.g. taskd cron validate \"0 9 * * 1-5\"")
	}
	loc, err := task.LoadLocation(cmd.String("tz"))
	if err != nil {
		return err
	}

	v := task.ValidateCron(expr, loc, time.Now(), int(cmd.Int("n")))
	if cmd.Bool("json") {
		return printJSON(v)
	}
	if !v.Valid {
		return fmt.Errorf("invalid expression %q: %s", expr, v.Error)
	}
	fmt.Printf("%s is valid (%s)\n", cOK.Sprintf("%q", expr), v.Timezone)
	for _, next := range v.NextRuns {
		fmt.Printf("  %s\n", next.Format("Mon 2006-01-02 15:04 MST"))
	}
	return nil
}
