package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/imageflow/pkg/cmd"
	"github.com/dukex/imageflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "imageflow-api",
		Usage:                 "Submit images and query analysis results over HTTP",
		EnableShellCompletion: true,
		Flags:                 append(append(cmd.EngineFlags(), cmd.TriggerFlags()...), cmd.PortFlag()),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := cmd.ConfigFromCommand(command)
			log.Setup(cfg.LogLevel)

			logger := log.WithModule("api")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing imageflow API")

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

			app := NewAPI(logger, rt).App()

			go func() {
				<-ctx.Done()

				err := app.Shutdown()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shut down API server", "error", err)
				}
			}()

			return app.Listen(":" + strconv.Itoa(cfg.Port))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("api").Error("API stopped", "error", err)
		os.Exit(1)
	}
}
