package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
)

// ProvideAWSConfig loads the default AWS configuration. When an endpoint is
// set every client talks to it with static local credentials.
func ProvideAWSConfig(ctx context.Context, region Region, endpoint Endpoint) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(string(region)))
	}
	if endpoint != "" {
		zerolog.Ctx(ctx).Info().Str("endpoint", string(endpoint)).Msg("Using local AWS endpoint")
		opts = append(opts,
			config.WithBaseEndpoint(string(endpoint)),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")),
		)
		if region == "" {
			opts = append(opts, config.WithRegion("us-east-1"))
		}
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

func ProvideCloudFormation(cfg aws.Config) *cloudformation.Client {
	return cloudformation.NewFromConfig(cfg)
}

// ProvideS3Client uses path style addressing against local endpoints, which
// rarely resolve bucket subdomains.
func ProvideS3Client(cfg aws.Config, endpoint Endpoint) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = endpoint != ""
	})
}

func ProvideECR(cfg aws.Config) *ecr.Client {
	return ecr.NewFromConfig(cfg)
}

func ProvideECS(cfg aws.Config) *ecs.Client {
	return ecs.NewFromConfig(cfg)
}

func ProvideCloudWatch(cfg aws.Config) *cloudwatch.Client {
	return cloudwatch.NewFromConfig(cfg)
}

func ProvideCloudWatchLogs(cfg aws.Config) *cloudwatchlogs.Client {
	return cloudwatchlogs.NewFromConfig(cfg)
}

func ProvideSecretsManager(cfg aws.Config) *secretsmanager.Client {
	return secretsmanager.NewFromConfig(cfg)
}

func ProvideSTS(cfg aws.Config) *sts.Client {
	return sts.NewFromConfig(cfg)
}

func ProvideDynamoDB(cfg aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg)
}
