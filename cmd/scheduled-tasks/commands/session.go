package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/savaki/scheduled-tasks/internal/config"
	"github.com/savaki/scheduled-tasks/internal/di"
	"github.com/savaki/scheduled-tasks/internal/services"
	"github.com/savaki/scheduled-tasks/internal/synth"
	"github.com/urfave/cli/v2"
)

// projectFlags are shared by every command that reads a project file.
func projectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "env",
			Aliases:  []string{"e"},
			Usage:    "Target environment (dev, stg, prd); selects the overlay file and Parameter Store path",
			Required: true,
			EnvVars:  []string{"ENV"},
		},
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "Project file",
			Value:   config.DefaultFilename,
			EnvVars: []string{"SCHEDULED_TASKS_FILE"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "AWS region (defaults to the AWS configuration)",
			EnvVars: []string{"AWS_REGION"},
		},
		&cli.StringFlag{
			Name:    "endpoint-url",
			Usage:   "Send every AWS request to this endpoint, e.g. LocalStack",
			EnvVars: []string{"AWS_ENDPOINT_URL"},
		},
		&cli.StringFlag{
			Name:    "template-bucket",
			Usage:   "S3 bucket for templates larger than 51,200 bytes",
			EnvVars: []string{"TEMPLATE_BUCKET"},
		},
		&cli.StringFlag{
			Name:    "alert-topic-arn",
			Usage:   "SNS topic for alarms when the project does not set one",
			EnvVars: []string{"ALERT_TOPIC_ARN"},
		},
	}
}

// deployFlags are shared by commands that synthesize a template.
func deployFlags() []cli.Flag {
	return append(projectFlags(),
		&cli.StringFlag{
			Name:    "docker-tag",
			Aliases: []string{"t"},
			Usage:   "Image tag to deploy; overrides service.image_tag",
			EnvVars: []string{"DOCKER_TAG"},
		},
		&cli.BoolFlag{
			Name:    "skip-image-check",
			Usage:   "Do not verify the image tag exists in ECR",
			EnvVars: []string{"SKIP_IMAGE_CHECK"},
		},
	)
}

// session is the project and container a command works with.
type session struct {
	env       string
	project   *config.Project
	container di.Container
}

func newSession(c *cli.Context) (*session, error) {
	ctx := c.Context
	env := c.String("env")

	opts := []di.Option{
		di.WithContext(ctx),
		di.WithRegion(c.String("region")),
		di.WithEndpoint(c.String("endpoint-url")),
		di.WithSkipImageCheck(c.Bool("skip-image-check")),
		di.WithOverrides(di.Overrides{
			TemplateBucket: c.String("template-bucket"),
			LockTable:      c.String("lock-table"),
			AlertTopicArn:  c.String("alert-topic-arn"),
		}),
	}

	container, err := di.New(env, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	project, err := config.Load(ctx, c.String("file"), env)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	store, err := di.Get[services.ParameterStore](container)
	if err != nil {
		return nil, err
	}
	if err := project.Resolve(ctx, store); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("env", env).
		Str("stack", project.Stack).
		Int("tasks", len(project.Tasks)).
		Msg("Loaded project")

	return &session{
		env:       env,
		project:   project,
		container: container,
	}, nil
}

func (s *session) synth(ctx context.Context, dockerTag string) (*synth.Output, error) {
	synthesizer, err := di.Get[*synth.Synthesizer](s.container)
	if err != nil {
		return nil, err
	}
	cfg, err := di.Get[*services.Config](s.container)
	if err != nil {
		return nil, err
	}

	return synthesizer.Synth(ctx, synth.Input{
		Project:       s.project,
		Env:           s.env,
		DockerTag:     dockerTag,
		AlertTopicArn: cfg.AlertTopicArn,
	})
}

func deployment(out *synth.Output) services.Deployment {
	return services.Deployment{
		StackName:  out.StackName,
		Template:   out.Body,
		Parameters: out.Parameters,
		Tags:       out.Tags,
	}
}

func displayJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
