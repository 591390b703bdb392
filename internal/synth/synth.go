// Package synth turns a project into a validated CloudFormation template and
// the parameters and tags to deploy it with.
package synth

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/rs/zerolog"
	"github.com/savaki/scheduled-tasks/internal/cfn"
	"github.com/savaki/scheduled-tasks/internal/config"
	"github.com/savaki/scheduled-tasks/internal/errors"
	"github.com/savaki/scheduled-tasks/internal/policy"
	"github.com/savaki/scheduled-tasks/internal/scheduledtask"
	"github.com/savaki/scheduled-tasks/internal/utils"
	"golang.org/x/sync/errgroup"
)

const (
	// ImageTagParameter carries the image tag so a new tag only changes a
	// parameter value.
	ImageTagParameter = "ImageTag"

	defaultImageTag = "latest"
)

// SecretResolver looks up the service secret.
type SecretResolver interface {
	ResolveARN(ctx context.Context, nameOrARN string) (string, error)
	TaskSecrets(ctx context.Context, secretARN string) ([]cfn.Secret, error)
}

// ImageVerifier confirms an image tag has been pushed.
type ImageVerifier interface {
	VerifyImage(ctx context.Context, repositoryURI, tag string) (string, error)
}

// Validator evaluates template guard rails.
type Validator interface {
	Validate(ctx context.Context, template *cfn.Template) (*policy.ValidationResult, error)
}

// Input selects what to synthesize.
type Input struct {
	Project *config.Project
	Env     string
	// DockerTag overrides the project's image tag.
	DockerTag string
	// AlertTopicArn is used when the project does not set one.
	AlertTopicArn string
}

// Output is a synthesized stack ready for preview or apply.
type Output struct {
	StackName   string
	Template    *cfn.Template
	Body        []byte
	Parameters  []types.Parameter
	Tags        map[string]string
	ImageTag    string
	ImageDigest string
	SecretArn   string
	Tasks       []string
}

// Synthesizer builds templates from projects.
type Synthesizer struct {
	secrets   SecretResolver
	images    ImageVerifier
	validator Validator
}

// New returns a Synthesizer. images may be nil to skip image verification.
func New(secrets SecretResolver, images ImageVerifier, validator Validator) *Synthesizer {
	return &Synthesizer{
		secrets:   secrets,
		images:    images,
		validator: validator,
	}
}

// Synth validates the project, resolves the secret and image, declares every
// enabled task and checks the result against policy.
func (s *Synthesizer) Synth(ctx context.Context, in Input) (out *Output, err error) {
	project := in.Project
	if project == nil {
		return nil, fmt.Errorf("%w: project required", errors.ErrInvalidOptions)
	}

	var (
		begin  = time.Now()
		logger = zerolog.Ctx(ctx).With().Str("stack", project.Stack).Str("env", in.Env).Logger()
	)
	logger.Info().Msg("synthesizing stack")
	defer func() {
		if err != nil {
			logger.Error().Err(err).Dur("elapsed", time.Since(begin)).Msg("synthesis failed")
			return
		}
		logger.Info().
			Int("tasks", len(out.Tasks)).
			Int("bytes", len(out.Body)).
			Dur("elapsed", time.Since(begin)).
			Msg("synthesized stack")
	}()

	if err := project.Validate(); err != nil {
		return nil, err
	}

	tag := in.DockerTag
	if tag == "" {
		tag = project.Service.ImageTag
	}
	if tag == "" {
		tag = defaultImageTag
	}

	var (
		secretArn   string
		secrets     []cfn.Secret
		imageDigest string
	)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		arn, err := s.secrets.ResolveARN(gctx, project.Service.Secret)
		if err != nil {
			return fmt.Errorf("failed to resolve secret %s: %w", project.Service.Secret, err)
		}
		refs, err := s.secrets.TaskSecrets(gctx, arn)
		if err != nil {
			return fmt.Errorf("failed to read secret keys of %s: %w", arn, err)
		}
		secretArn, secrets = arn, refs
		return nil
	})
	if s.images != nil {
		group.Go(func() error {
			digest, err := s.images.VerifyImage(gctx, project.Service.Repository, tag)
			if err != nil {
				return err
			}
			imageDigest = digest
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	description := project.Description
	if description == "" {
		description = fmt.Sprintf("Scheduled tasks of %s", project.Stack)
	}
	stack := cfn.NewStack(description)

	_, err = stack.Parameter(ImageTagParameter, cfn.Parameter{
		Type:        "String",
		Description: "Image tag every task runs",
		Default:     defaultImageTag,
	})
	if err != nil {
		return nil, err
	}

	for _, name := range slices.Sorted(maps.Keys(project.Parameters)) {
		if name == ImageTagParameter {
			continue
		}
		if _, err := stack.Parameter(name, cfn.Parameter{Type: "String"}); err != nil {
			return nil, err
		}
	}

	service := project.Service
	if service.AlertTopicArn == "" {
		service.AlertTopicArn = in.AlertTopicArn
	}
	taskConfig := service.TaskConfig(cfn.Sub(service.Repository + ":${" + ImageTagParameter + "}"))

	var names []string
	for _, task := range project.Enabled() {
		_, err := scheduledtask.Provision(stack, scheduledtask.Input{
			Name:               task.Name,
			Config:             taskConfig,
			Environment:        task.EnvironmentWith(service.Environment),
			Secrets:            secrets,
			Command:            task.Command,
			ScheduleExpression: task.Schedule,
			SecretArn:          cfn.String(secretArn),
			Options:            task.Options,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to declare task %s: %w", task.Name, err)
		}
		names = append(names, task.Name)
	}

	template := stack.Template()
	if s.validator != nil {
		result, err := s.validator.Validate(ctx, template)
		if err != nil {
			return nil, err
		}
		if !result.Allowed {
			return nil, fmt.Errorf("%w: %s", errors.ErrPolicyViolation, strings.Join(result.Violations, "; "))
		}
	}

	body, err := template.JSON()
	if err != nil {
		return nil, err
	}

	tags := map[string]string{}
	if in.Env != "" {
		tags["Environment"] = in.Env
	}
	maps.Copy(tags, project.Tags)

	return &Output{
		StackName:   project.Stack,
		Template:    template,
		Body:        body,
		Parameters:  utils.MergeParameters(project.Parameters, map[string]string{ImageTagParameter: tag}),
		Tags:        tags,
		ImageTag:    tag,
		ImageDigest: imageDigest,
		SecretArn:   secretArn,
		Tasks:       names,
	}, nil
}
