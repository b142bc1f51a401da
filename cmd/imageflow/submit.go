package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dukex/imageflow/pkg/cmd"
	"github.com/dukex/imageflow/pkg/log"
	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

const pollInterval = 100 * time.Millisecond

func SubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Aliases:   []string{"s"},
		Usage:     "Analyze a local image file and print the stored record",
		ArgsUsage: "<file>",
		Flags: append(cmd.EngineFlags(),
			&cli.StringFlag{
				Name:  "name",
				Usage: "Blob name to record (defaults to images/<file name>)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the analysis",
				Value: time.Minute,
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errors.New("an image file is required")
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			name := command.String("name")
			if name == "" {
				name = "images/" + filepath.Base(path)
			}

			cfg := cmd.ConfigFromCommand(command)
			log.Setup(cfg.LogLevel)

			logger := log.WithModule("imageflow")

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

			instanceID, err := rt.Driver.Submit(ctx, workflow.NewImageInput(name, data))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, command.Duration("timeout"))
			defer cancel()

			instance, err := waitForInstance(ctx, rt.Engine, instanceID)
			if err != nil {
				return err
			}

			if instance.Status != models.InstanceStatusCompleted {
				return fmt.Errorf("instance %s %s: %s", instance.ID, instance.Status, instance.ErrorMessage)
			}

			return printJSON(command, instance.Output)
		},
	}
}

func waitForInstance(ctx context.Context, engine *workflow.Engine, instanceID string) (*models.WorkflowInstance, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		instance, err := engine.Instance(ctx, instanceID)
		if err != nil {
			return nil, err
		}

		if instance.Status.IsTerminal() {
			return instance, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for instance %s: %w", instanceID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printJSON(command *cli.Command, value any) error {
	encoder := json.NewEncoder(command.Root().Writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}
