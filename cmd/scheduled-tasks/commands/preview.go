package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/scheduled-tasks/internal/config"
	"github.com/savaki/scheduled-tasks/internal/di"
	"github.com/savaki/scheduled-tasks/internal/schedule"
	"github.com/savaki/scheduled-tasks/internal/services"
	"github.com/urfave/cli/v2"
)

const scheduledRuns = 3

// PreviewCommand creates a change set and reports what it would change.
func PreviewCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "preview",
		Usage: "Show the changes an apply would make",
		Description: `Synthesize the stack, create a CloudFormation change set and list its
resource changes followed by the next runs of every task. The change set is
deleted afterwards unless --keep is set.

Examples:
  scheduled-tasks preview --env dev --docker-tag 3f2a9c1
  scheduled-tasks preview --env prd --json`,
		Flags: append(deployFlags(),
			&cli.BoolFlag{
				Name:  "keep",
				Usage: "Keep the change set for inspection in the console",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		),
		Action: previewAction,
	}
}

type previewResult struct {
	ChangeSet *services.ChangeSet `json:"change_set"`
	Schedules []taskSchedule      `json:"schedules"`
}

type taskSchedule struct {
	Task     string      `json:"task"`
	Schedule string      `json:"schedule"`
	Next     []time.Time `json:"next,omitempty"`
}

func previewAction(c *cli.Context) error {
	ctx := c.Context
	logger := zerolog.Ctx(ctx)

	s, err := newSession(c)
	if err != nil {
		return err
	}

	out, err := s.synth(ctx, c.String("docker-tag"))
	if err != nil {
		return err
	}

	stacks, err := di.Get[*services.StackService](s.container)
	if err != nil {
		return err
	}

	cs, err := stacks.Preview(ctx, deployment(out))
	if err != nil {
		return err
	}
	if c.Bool("keep") {
		logger.Info().Str("change_set", cs.Name).Msg("Keeping change set")
	} else {
		defer stacks.Discard(ctx, cs)
	}

	result := previewResult{
		ChangeSet: cs,
		Schedules: schedules(s.project, time.Now()),
	}
	if c.Bool("json") {
		return displayJSON(result)
	}

	displayPreview(os.Stdout, result)
	return nil
}

func schedules(project *config.Project, from time.Time) []taskSchedule {
	var results []taskSchedule
	for _, task := range project.Enabled() {
		item := taskSchedule{Task: task.Name, Schedule: task.Schedule}
		if expr, err := schedule.Parse(task.Schedule); err == nil {
			item.Next = expr.Next(from, scheduledRuns)
		}
		results = append(results, item)
	}
	return results
}

func displayPreview(w io.Writer, result previewResult) {
	cs := result.ChangeSet

	fmt.Fprintf(w, "\nStack: %s (%s)\n", cs.StackName, strings.ToLower(string(cs.Type)))
	fmt.Fprintln(w, strings.Repeat("=", 80))
	if cs.Empty {
		fmt.Fprintln(w, "No changes")
	}
	for _, change := range cs.Changes {
		line := fmt.Sprintf("  %-8s %-40s %s", change.Action, change.LogicalID, change.ResourceType)
		if change.Replacement == "True" {
			line += " (replacement)"
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, "\nSchedules (UTC)")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	for _, item := range result.Schedules {
		fmt.Fprintf(w, "  %-24s %s\n", item.Task, item.Schedule)
		for _, next := range item.Next {
			fmt.Fprintf(w, "  %-24s   %s\n", "", next.Format(time.RFC3339))
		}
	}
	fmt.Fprintln(w)
}
