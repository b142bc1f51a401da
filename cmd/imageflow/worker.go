package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/dukex/imageflow/pkg/cmd"
	"github.com/dukex/imageflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:    "worker",
		Aliases: []string{"w"},
		Usage:   "Execute activity tasks published on the event bus",
		Flags:   cmd.EngineFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := cmd.ConfigFromCommand(command)
			log.Setup(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			wr, err := cmd.NewWorkerRuntime(ctx, cfg, log.WithModule("imageflow-worker"))
			if err != nil {
				return err
			}

			logger := log.WithModule("imageflow-worker").With("worker_id", cfg.WorkerID)

			defer func() {
				err := wr.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close worker", "error", err)
				}
			}()

			err = wr.Worker.Start(ctx)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Worker started successfully")

			<-ctx.Done()
			logger.InfoContext(ctx, "Shutting down worker...")

			return nil
		},
	}
}
