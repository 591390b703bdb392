package main

import (
	"context"
	"os"
	"slices"

	"github.com/savaki/scheduled-tasks/cmd/scheduled-tasks/commands"
	"github.com/savaki/scheduled-tasks/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	verbose := slices.Contains(os.Args[1:], "--verbose") || slices.Contains(os.Args[1:], "-v")
	logger := di.ProvideLogger(verbose)
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "scheduled-tasks",
		Usage: "Deploy scheduled container tasks with CloudFormation",
		Description: `Synthesizes a CloudFormation stack of scheduled ECS Fargate tasks from a
project file and deploys it through change sets.

Each task gets:
  - a log group with 90 day retention
  - a task definition whose command reports "SUCCESS <name>" when it succeeds
  - an EventBridge schedule rule and the role it launches the task with
  - optional alarms for missing, failed and unsuccessful runs`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			commands.SynthCommand(&logger),
			commands.PreviewCommand(&logger),
			commands.ApplyCommand(&logger),
			commands.StatusCommand(&logger),
			commands.RunCommand(&logger),
			commands.HistoryCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
