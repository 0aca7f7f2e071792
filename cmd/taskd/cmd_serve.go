package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskd/internal/api"
	"github.com/tgifai/taskd/internal/channel"
	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/handler"
	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/store"
)

var serveHwd = &ServeRunner{}

type ServeRunner struct{}

func (r *ServeRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler, the execution handlers and the management API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "bind",
				Usage: "Override server.bind from the config",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level regardless of logging.level",
			},
		},
		Action: r.run,
	}
}

func (r *ServeRunner) run(ctx context.Context, cmd *cli.Command) error {
	cfgPath := cmd.String("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}
	if bind := cmd.String("bind"); bind != "" {
		cfg.Server.Bind = bind
	}

	if err = initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}
	if cmd.Bool("verbose") {
		logs.SetLogLevel(logs.DebugLevel)
	}
	logs.CtxInfo(ctx, "booting taskd, using config file: %s...", cfgPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := store.Open(ctx, store.Config{
		Driver:   cfg.Store.Driver,
		Path:     cfg.Store.Path,
		FilePath: cfg.Store.FilePath,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	handlers, err := handler.Build(ctx, cfg, channel.Default())
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("build handlers: %w", err)
	}
	defer handlers.Close(context.Background())

	bus := cronjob.NewBus()
	if err = handlers.Subscribe(bus); err != nil {
		_ = st.Close()
		return err
	}

	engine := cronjob.New(cfg.Scheduler, st, bus)
	if err = engine.Init(ctx); err != nil {
		_ = engine.Shutdown(context.Background())
		return fmt.Errorf("init engine: %w", err)
	}
	go engine.WatchFailures(ctx, handlers.Reminder)

	srv := api.NewServer(cfg.Server, engine)
	srv.Start(ctx)

	logs.CtxInfo(ctx, "ALL IS WELL!!! %d task(s) loaded, API on %s. Press Ctrl+C to stop.",
		engine.Stats(ctx).Total, cfg.Server.Bind)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "Received shutdown signal (%s). Stopping...", sig.String())
	case <-ctx.Done():
		logs.CtxInfo(ctx, "Context canceled. Stopping...")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownGrace+cfg.Server.ReadTimeout)
	defer stopCancel()

	if err = srv.Shutdown(stopCtx); err != nil {
		logs.CtxError(ctx, "stop api server error: %v", err)
	}
	if err = engine.Shutdown(stopCtx); err != nil {
		logs.CtxError(ctx, "stop engine error: %v", err)
	}

	logs.CtxInfo(ctx, "all stopped, good bye!")
	logs.Flush()
	return nil
}

func initLogger(cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	})
}
