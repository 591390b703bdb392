package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/savaki/scheduled-tasks/internal/cfn"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type SecretsManagerService struct {
	client SecretsManagerAPI
}

func NewSecretsManagerService(client SecretsManagerAPI) *SecretsManagerService {
	return &SecretsManagerService{
		client: client,
	}
}

// ResolveARN returns the full ARN of a secret given its name or ARN. Full
// ARNs are returned as is.
func (s *SecretsManagerService) ResolveARN(ctx context.Context, nameOrARN string) (string, error) {
	if isSecretARN(nameOrARN) {
		return nameOrARN, nil
	}

	result, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(nameOrARN),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe secret %s: %w", nameOrARN, err)
	}

	if result.ARN == nil {
		return "", fmt.Errorf("secret %s has no arn", nameOrARN)
	}

	return *result.ARN, nil
}

// GetSecret retrieves a secret value by path from AWS Secrets Manager
func (s *SecretsManagerService) GetSecret(ctx context.Context, secretPath string) (string, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", secretPath, err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretPath)
	}

	return *result.SecretString, nil
}

// TaskSecrets exposes every key of a JSON secret to a container as an
// environment variable of the same name. Only key names are read into the
// template; values are fetched by ECS at launch.
func (s *SecretsManagerService) TaskSecrets(ctx context.Context, secretARN string) ([]cfn.Secret, error) {
	value, err := s.GetSecret(ctx, secretARN)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", secretARN, err)
	}

	return SecretRefs(secretARN, fields), nil
}

// SecretRefs returns one ECS secret reference per key, sorted by key.
func SecretRefs[V any](secretARN string, fields map[string]V) []cfn.Secret {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	secrets := make([]cfn.Secret, 0, len(keys))
	for _, key := range keys {
		secrets = append(secrets, cfn.Secret{
			Name:      key,
			ValueFrom: fmt.Sprintf("%s:%s::", secretARN, key),
		})
	}
	return secrets
}

func isSecretARN(s string) bool {
	return strings.HasPrefix(s, "arn:") && strings.Contains(s, ":secretsmanager:")
}
