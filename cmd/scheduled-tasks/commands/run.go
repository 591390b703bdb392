package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/gox/slicex"
	"github.com/savaki/scheduled-tasks/internal/cfn"
	"github.com/savaki/scheduled-tasks/internal/di"
	"github.com/savaki/scheduled-tasks/internal/services"
	"github.com/urfave/cli/v2"
)

// RunCommand starts a deployed task outside its schedule.
func RunCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start a deployed task now",
		Description: `Start the latest deployed revision of a task immediately, on the cluster and
network the schedule uses. Import references in the project are resolved
against the stack exports of the current region.

Examples:
  scheduled-tasks run --env dev --task ReScore`,
		Flags: append(projectFlags(),
			&cli.StringFlag{
				Name:     "task",
				Usage:    "Task name as declared in the project file",
				Required: true,
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	ctx := c.Context
	logger := zerolog.Ctx(ctx)

	s, err := newSession(c)
	if err != nil {
		return err
	}

	task, err := s.project.Task(c.String("task"))
	if err != nil {
		return err
	}

	stacks, err := di.Get[*services.StackService](s.container)
	if err != nil {
		return err
	}
	tasks, err := di.Get[*services.TaskService](s.container)
	if err != nil {
		return err
	}

	resolve := func(ctx context.Context, raw string) (string, error) {
		return stacks.Resolve(ctx, cfn.Parse(raw))
	}

	service := s.project.Service
	cluster, err := resolve(ctx, service.ClusterArn)
	if err != nil {
		return fmt.Errorf("failed to resolve cluster: %w", err)
	}
	subnets, err := slicex.MapConcurrent(resolve).
		Concurrency(4).
		DoValues(ctx, service.Subnets...)
	if err != nil {
		return fmt.Errorf("failed to resolve subnets: %w", err)
	}
	var securityGroups []string
	if service.SecurityGroupID != "" {
		sg, err := resolve(ctx, service.SecurityGroupID)
		if err != nil {
			return fmt.Errorf("failed to resolve security group: %w", err)
		}
		securityGroups = append(securityGroups, sg)
	}

	taskArn, err := tasks.RunNow(ctx, services.RunInput{
		Task:           task.Name,
		Cluster:        cluster,
		Subnets:        subnets,
		SecurityGroups: securityGroups,
		StartedBy:      "scheduled-tasks",
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("task", task.Name).
		Str("cluster", cluster).
		Msg("Task started; follow its log group for the result")
	fmt.Println(taskArn)
	return nil
}
