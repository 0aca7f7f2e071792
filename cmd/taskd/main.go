package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskd/internal/consts"
	"github.com/tgifai/taskd/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:    consts.AppName,
		Usage:   "Schedule tasks on cron or dependency triggers and dispatch them to execution handlers",
		Version: consts.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the config file",
				Value:   consts.DefaultConfigPath(),
				Sources: cli.EnvVars("TASKD_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			serveHwd.cmd(),
			taskHwd.cmd(),
			cronHwd.cmd(),
			msgHwd.cmd(),
			configHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}
