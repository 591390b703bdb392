package di

import (
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/savaki/scheduled-tasks/internal/policy"
	"github.com/savaki/scheduled-tasks/internal/services"
	"github.com/savaki/scheduled-tasks/internal/synth"
)

func ProvideStackService(cf *cloudformation.Client, s3Client *s3.Client, config *services.Config) *services.StackService {
	return services.NewStackService(cf, s3Client, config.TemplateBucket)
}

func ProvideImageService(client *ecr.Client) *services.ImageService {
	return services.NewImageService(client)
}

func ProvideTaskService(ecsClient *ecs.Client, cw *cloudwatch.Client, logs *cloudwatchlogs.Client) *services.TaskService {
	return services.NewTaskService(ecsClient, cw, logs)
}

func ProvideIdentityService(client *sts.Client) *services.IdentityService {
	return services.NewIdentityService(client)
}

func ProvideSecretsManagerService(client *secretsmanager.Client) *services.SecretsManagerService {
	return services.NewSecretsManagerService(client)
}

func ProvideValidator() (*policy.Validator, error) {
	return policy.NewValidator()
}

// ProvideSynthesizer wires the synthesizer. Image verification is skipped
// when requested, e.g. for synth runs before the image is pushed.
func ProvideSynthesizer(
	secrets *services.SecretsManagerService,
	images *services.ImageService,
	validator *policy.Validator,
	skip SkipImageCheck,
) *synth.Synthesizer {
	if skip {
		return synth.New(secrets, nil, validator)
	}
	return synth.New(secrets, images, validator)
}
