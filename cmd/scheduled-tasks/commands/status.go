package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/scheduled-tasks/internal/di"
	apperrors "github.com/savaki/scheduled-tasks/internal/errors"
	"github.com/savaki/scheduled-tasks/internal/services"
	"github.com/urfave/cli/v2"
)

// StatusCommand reports the stack, alarm states and recent runs.
func StatusCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show stack status, alarm states and recent runs",
		Description: `Report the CloudFormation status of the project's stack, the state of every
task alarm and the most recent runs found in the task logs. A run succeeded
when its log contains "SUCCESS <task>" and failed when it reported
"CRONJOB ERROR:".

Examples:
  scheduled-tasks status --env prd
  scheduled-tasks status --env prd --since 72h --runs 10 --json`,
		Flags: append(projectFlags(),
			&cli.DurationFlag{
				Name:  "since",
				Usage: "How far back to look for runs",
				Value: 24 * time.Hour,
			},
			&cli.IntFlag{
				Name:  "runs",
				Usage: "Runs to show per task",
				Value: 5,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		),
		Action: statusAction,
	}
}

type statusResult struct {
	Stack *services.StackStatus   `json:"stack,omitempty"`
	Tasks []*services.TaskSummary `json:"tasks"`
}

func statusAction(c *cli.Context) error {
	ctx := c.Context

	s, err := newSession(c)
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

	var result statusResult
	result.Stack, err = stacks.Status(ctx, s.project.Stack)
	if err != nil && !errors.Is(err, apperrors.ErrStackNotFound) {
		return err
	}

	var names []string
	for _, task := range s.project.Enabled() {
		names = append(names, task.Name)
	}
	if result.Stack != nil {
		since := time.Now().Add(-c.Duration("since"))
		result.Tasks, err = tasks.Summaries(ctx, since, c.Int("runs"), names...)
		if err != nil {
			return err
		}
	}

	if c.Bool("json") {
		return displayJSON(result)
	}

	displayStatus(os.Stdout, s.project.Stack, result)
	return nil
}

func displayStatus(w io.Writer, stackName string, result statusResult) {
	fmt.Fprintf(w, "\nStack: %s\n", stackName)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	if result.Stack == nil {
		fmt.Fprintln(w, "Not deployed")
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, "Status: %s\n", result.Stack.Status)
	if result.Stack.StatusReason != "" {
		fmt.Fprintf(w, "Reason: %s\n", result.Stack.StatusReason)
	}
	for _, event := range result.Stack.FailedEvents {
		fmt.Fprintf(w, "  %s %s: %s\n", event.Status, event.LogicalID, event.Reason)
	}

	for _, summary := range result.Tasks {
		fmt.Fprintf(w, "\nTask: %s\n", summary.Task)
		fmt.Fprintln(w, strings.Repeat("-", 80))

		if len(summary.Alarms) == 0 {
			fmt.Fprintln(w, "  No alarms")
		}
		for _, alarm := range summary.Alarms {
			fmt.Fprintf(w, "  %-40s %s\n", alarm.Name, alarm.State)
		}

		if len(summary.Runs) == 0 {
			fmt.Fprintln(w, "  No runs found")
		}
		for _, run := range summary.Runs {
			outcome := "SUCCESS"
			if !run.Success {
				outcome = "ERROR  "
			}
			fmt.Fprintf(w, "  %s  %s  %s\n", run.Timestamp.UTC().Format(time.RFC3339), outcome, run.Message)
		}
	}
	fmt.Fprintln(w)
}
