package services

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/savaki/scheduled-tasks/internal/cfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecretARN = "arn:aws:secretsmanager:us-west-2:123456789012:secret:scorer-AbCdEf"

type fakeSecretsManager struct {
	value     string
	described []string
}

func (f *fakeSecretsManager) DescribeSecret(_ context.Context, params *secretsmanager.DescribeSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.described = append(f.described, aws.ToString(params.SecretId))
	return &secretsmanager.DescribeSecretOutput{ARN: aws.String(testSecretARN)}, nil
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.value)}, nil
}

func TestSecretsManagerService_ResolveARN(t *testing.T) {
	fake := &fakeSecretsManager{}
	service := NewSecretsManagerService(fake)

	got, err := service.ResolveARN(context.Background(), "scorer/dev")
	require.NoError(t, err)
	assert.Equal(t, testSecretARN, got)
	assert.Equal(t, []string{"scorer/dev"}, fake.described)

	got, err = service.ResolveARN(context.Background(), testSecretARN)
	require.NoError(t, err)
	assert.Equal(t, testSecretARN, got)
	assert.Len(t, fake.described, 1)
}

func TestSecretsManagerService_TaskSecrets(t *testing.T) {
	t.Run("json keys", func(t *testing.T) {
		service := NewSecretsManagerService(&fakeSecretsManager{
			value: `{"SECRET_KEY":"s3cr3t","DATABASE_URL":"postgres://x","PORT":5432}`,
		})

		got, err := service.TaskSecrets(context.Background(), testSecretARN)
		require.NoError(t, err)
		assert.Equal(t, []cfn.Secret{
			{Name: "DATABASE_URL", ValueFrom: testSecretARN + ":DATABASE_URL::"},
			{Name: "PORT", ValueFrom: testSecretARN + ":PORT::"},
			{Name: "SECRET_KEY", ValueFrom: testSecretARN + ":SECRET_KEY::"},
		}, got)
	})

	t.Run("not json", func(t *testing.T) {
		service := NewSecretsManagerService(&fakeSecretsManager{value: "plain"})
		_, err := service.TaskSecrets(context.Background(), testSecretARN)
		assert.Error(t, err)
	})
}
