package main

import (
	"context"
	"errors"

	"github.com/dukex/imageflow/pkg/cmd"
	"github.com/dukex/imageflow/pkg/log"
	"github.com/dukex/imageflow/pkg/results"
	cli "github.com/urfave/cli/v3"
)

func ResultsCommand() *cli.Command {
	return &cli.Command{
		Name:  "results",
		Usage: "Query stored analysis reports",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the most recent reports",
				Flags: append(cmd.EngineFlags(), &cli.IntFlag{
					Name:  "limit",
					Usage: "Maximum number of reports",
					Value: results.DefaultListLimit,
				}),
				Action: func(ctx context.Context, command *cli.Command) error {
					return withResults(ctx, command, func(service *results.Service) error {
						list, err := service.List(ctx, command.Int("limit"))
						if err != nil {
							return err
						}

						return printJSON(command, list)
					})
				},
			},
			{
				Name:      "get",
				Usage:     "Print one report",
				ArgsUsage: "<id>",
				Flags:     cmd.EngineFlags(),
				Action: func(ctx context.Context, command *cli.Command) error {
					id := command.Args().First()
					if id == "" {
						return errors.New("a report id is required")
					}

					return withResults(ctx, command, func(service *results.Service) error {
						report, err := service.Get(ctx, id)
						if err != nil {
							return err
						}

						return printJSON(command, report)
					})
				},
			},
		},
	}
}

func withResults(ctx context.Context, command *cli.Command, fn func(*results.Service) error) error {
	cfg := cmd.ConfigFromCommand(command)
	log.Setup(cfg.LogLevel)

	logger := log.WithModule("imageflow")

	stores, err := cmd.NewStores(ctx, logger, cfg.DatabaseURL, cfg.ResultsURL)
	if err != nil {
		return err
	}

	defer func() {
		err := stores.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close stores", "error", err)
		}
	}()

	return fn(results.NewService(stores.Results, logger))
}
