package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/scheduled-tasks/internal/dao/deploymentdao"
	"github.com/savaki/scheduled-tasks/internal/di"
	"github.com/urfave/cli/v2"
)

// HistoryCommand lists recent applies of the project's stack.
func HistoryCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent applies recorded in the lock table",
		Description: `Every apply run with a lock table records the image it deployed, the caller
and the outcome. This command lists the most recent ones, newest first.

Examples:
  scheduled-tasks history --env prd --lock-table scheduled-tasks-locks
  LOCK_TABLE=scheduled-tasks-locks scheduled-tasks history --env prd --limit 20`,
		Flags: append(projectFlags(),
			&cli.StringFlag{
				Name:     "lock-table",
				Usage:    "DynamoDB table holding deploy locks and history",
				EnvVars:  []string{"LOCK_TABLE"},
				Required: true,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Applies to list",
				Value: 10,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	ctx := c.Context

	s, err := newSession(c)
	if err != nil {
		return err
	}

	dao, err := di.Get[*deploymentdao.DAO](s.container)
	if err != nil {
		return err
	}
	if dao == nil {
		return fmt.Errorf("no lock table configured")
	}

	records, err := dao.Recent(ctx, s.env, s.project.Stack, c.Int("limit"))
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return displayJSON(records)
	}

	displayHistory(os.Stdout, s.project.Stack, records)
	return nil
}

func displayHistory(w io.Writer, stackName string, records []deploymentdao.Record) {
	fmt.Fprintf(w, "\nDeployments: %s\n", stackName)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	if len(records) == 0 {
		fmt.Fprintln(w, "None recorded")
	}
	for _, record := range records {
		created := time.Unix(record.CreatedAt, 0).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "  %s  %-11s %-20s %s\n", created, record.Status, record.ImageTag, record.Actor)
		if record.Status == deploymentdao.StatusFailed && record.StatusReason != "" {
			fmt.Fprintf(w, "    %s\n", record.StatusReason)
		}
		for _, event := range record.StackEvents {
			fmt.Fprintf(w, "    %s\n", event)
		}
	}
	fmt.Fprintln(w)
}
