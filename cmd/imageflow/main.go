package main

import (
	"context"
	"os"

	"github.com/dukex/imageflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "imageflow",
		Usage:                 "Analyze images with durable fan-out/fan-in orchestrations",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunCommand(),
			WorkerCommand(),
			SubmitCommand(),
			ResultsCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("imageflow").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
