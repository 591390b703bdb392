package di

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/scheduled-tasks/internal/services"
)

// ProvideSSMClient provides an SSM client for Parameter Store access
// Returns nil if SSM is disabled (for local development)
func ProvideSSMClient(awsConfig aws.Config) *ssm.Client {
	// Check if SSM should be disabled (local development)
	if os.Getenv("DISABLE_SSM") == "true" {
		return nil
	}

	return ssm.NewFromConfig(awsConfig)
}

// ProvideParameterStore provides a ParameterStore implementation
// Uses SSM Parameter Store in AWS, falls back to environment variables when disabled
func ProvideParameterStore(ctx context.Context, ssmClient *ssm.Client, env string) services.ParameterStore {
	logger := zerolog.Ctx(ctx)

	if ssmClient == nil {
		logger.Info().Msg("Using environment variables for configuration (SSM disabled)")
		return services.NewEnvParameterStore(env)
	}

	logger.Debug().Msg("Using AWS Systems Manager Parameter Store for configuration")
	return services.NewSSMParameterStore(ssmClient, env)
}

// ProvideAppConfig loads the environment configuration from Parameter Store
// or environment variables and applies command line overrides.
func ProvideAppConfig(ctx context.Context, store services.ParameterStore, overrides Overrides) (*services.Config, error) {
	logger := zerolog.Ctx(ctx)

	config, err := store.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if overrides.TemplateBucket != "" {
		config.TemplateBucket = overrides.TemplateBucket
	}
	if overrides.LockTable != "" {
		config.LockTable = overrides.LockTable
	}
	if overrides.AlertTopicArn != "" {
		config.AlertTopicArn = overrides.AlertTopicArn
	}

	logger.Debug().
		Str("template_bucket", config.TemplateBucket).
		Str("lock_table", config.LockTable).
		Bool("has_alert_topic", config.AlertTopicArn != "").
		Msg("Configuration loaded successfully")

	return config, nil
}
