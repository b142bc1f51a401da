package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/dukex/imageflow/pkg/cmd"
	"github.com/dukex/imageflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the orchestration engine and the ingestion triggers",
		Flags:   append(cmd.EngineFlags(), cmd.TriggerFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := cmd.ConfigFromCommand(command)
			log.Setup(cfg.LogLevel)

			logger := log.WithModule("imageflow")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing imageflow engine", "event_bus", cfg.EventBus)

			rt, err := cmd.NewRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := rt.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			err = rt.Start(ctx)
			if err != nil {
				return err
			}

			triggers, err := cmd.StartTriggers(ctx, cfg, rt.Driver, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := triggers.Stop(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to stop triggers", "error", err)
				}
			}()

			logger.InfoContext(ctx, "Engine started")

			<-ctx.Done()
			logger.InfoContext(ctx, "Shutting down engine...")

			return nil
		},
	}
}
