package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// SynthCommand prints the synthesized template.
func SynthCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "synth",
		Usage: "Print the CloudFormation template for a project",
		Description: `Synthesize the stack without touching CloudFormation. The service secret is
read to list its keys and the image tag is verified unless --skip-image-check
is set.

Examples:
  # Print the dev template as JSON
  scheduled-tasks synth --env dev

  # Write the prd template as YAML
  scheduled-tasks synth --env prd --format yaml --output template.yaml`,
		Flags: append(deployFlags(),
			&cli.StringFlag{
				Name:  "format",
				Usage: "Template format: json or yaml",
				Value: "json",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the template to this file instead of stdout",
			},
		),
		Action: synthAction,
	}
}

func synthAction(c *cli.Context) error {
	logger := zerolog.Ctx(c.Context)

	s, err := newSession(c)
	if err != nil {
		return err
	}

	out, err := s.synth(c.Context, c.String("docker-tag"))
	if err != nil {
		return err
	}

	data := out.Body
	switch format := c.String("format"); format {
	case "json":
	case "yaml", "yml":
		data, err = out.Template.YAML()
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q, expected json or yaml", format)
	}

	if path := c.String("output"); path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		logger.Info().
			Str("path", path).
			Strs("tasks", out.Tasks).
			Msg("Wrote template")
		return nil
	}

	_, err = os.Stdout.Write(data)
	return err
}
