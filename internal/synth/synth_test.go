package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/savaki/scheduled-tasks/internal/cfn"
	"github.com/savaki/scheduled-tasks/internal/config"
	"github.com/savaki/scheduled-tasks/internal/errors"
	"github.com/savaki/scheduled-tasks/internal/policy"
	"github.com/savaki/scheduled-tasks/internal/scheduledtask"
	"github.com/savaki/scheduled-tasks/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRepository = "123456789012.dkr.ecr.us-west-2.amazonaws.com/scorer"
	testSecretARN  = "arn:aws:secretsmanager:us-west-2:123456789012:secret:scorer-AbCdEf"
)

type fakeSecrets struct {
	err error
}

func (f fakeSecrets) ResolveARN(_ context.Context, nameOrARN string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return testSecretARN, nil
}

func (f fakeSecrets) TaskSecrets(_ context.Context, secretARN string) ([]cfn.Secret, error) {
	return []cfn.Secret{{Name: "SECRET_KEY", ValueFrom: secretARN + ":SECRET_KEY::"}}, nil
}

type fakeImages struct {
	tags []string
}

func (f *fakeImages) VerifyImage(_ context.Context, repositoryURI, tag string) (string, error) {
	f.tags = append(f.tags, tag)
	if tag == "missing" {
		return "", fmt.Errorf("%w: %s:%s", errors.ErrImageNotFound, repositoryURI, tag)
	}
	return "sha256:feed", nil
}

type denyAll struct{}

func (denyAll) Validate(context.Context, *cfn.Template) (*policy.ValidationResult, error) {
	return &policy.ValidationResult{Violations: []string{"no deploys on fridays"}}, nil
}

func testProject() *config.Project {
	return &config.Project{
		Stack:      "scorer-tasks-dev",
		Parameters: map[string]string{"Team": "scoring"},
		Tags:       map[string]string{"Team": "scoring"},
		Service: config.Service{
			Repository:       testRepository,
			ImageTag:         "latest",
			ExecutionRoleArn: "import:scorer-ExecutionRoleArn",
			TaskRoleArn:      "import:scorer-TaskRoleArn",
			ClusterArn:       "import:scorer-ClusterArn",
			Subnets:          []string{"subnet-a", "subnet-b"},
			SecurityGroupID:  "sg-123",
			Secret:           "scorer/api",
			Environment:      []config.EnvVar{{Name: "LOG_LEVEL", Value: "info"}},
		},
		Tasks: []config.Task{
			{
				Name:     "ReScore",
				Command:  "python manage.py rescore",
				Schedule: "rate(1 hour)",
				Options: scheduledtask.Options{
					AlarmPeriodSeconds:     3600,
					EnableInvocationAlerts: true,
				},
			},
			{
				Name:     "Prune",
				Command:  "python manage.py prune",
				Schedule: "cron(0 3 * * ? *)",
			},
			{
				Name:     "Legacy",
				Command:  "python manage.py legacy",
				Schedule: "rate(1 day)",
				Disabled: true,
			},
		},
	}
}

func newSynthesizer(t *testing.T, images ImageVerifier) *Synthesizer {
	t.Helper()
	validator, err := policy.NewValidator()
	require.NoError(t, err)
	return New(fakeSecrets{}, images, validator)
}

func TestSynthesizer_Synth(t *testing.T) {
	images := &fakeImages{}
	synthesizer := newSynthesizer(t, images)

	out, err := synthesizer.Synth(context.Background(), Input{
		Project:       testProject(),
		Env:           "dev",
		DockerTag:     "abc123",
		AlertTopicArn: "arn:aws:sns:us-west-2:123456789012:alerts",
	})
	require.NoError(t, err)

	assert.Equal(t, "scorer-tasks-dev", out.StackName)
	assert.Equal(t, []string{"ReScore", "Prune"}, out.Tasks)
	assert.Equal(t, "abc123", out.ImageTag)
	assert.Equal(t, "sha256:feed", out.ImageDigest)
	assert.Equal(t, testSecretARN, out.SecretArn)
	assert.Equal(t, []string{"abc123"}, images.tags)
	assert.Equal(t, map[string]string{"Environment": "dev", "Team": "scoring"}, out.Tags)
	assert.Equal(t, map[string]string{"ImageTag": "abc123", "Team": "scoring"}, utils.ParameterMap(out.Parameters))

	template := out.Template
	assert.Contains(t, template.Parameters, ImageTagParameter)
	assert.Contains(t, template.Parameters, "Team")
	assert.Contains(t, template.Resources, "ReScoreTaskDefinition")
	assert.Contains(t, template.Resources, "PruneTaskDefinition")
	assert.NotContains(t, template.Resources, "LegacyTaskDefinition")
	assert.Len(t, template.Resources, 14)

	var decoded struct {
		Resources map[string]struct {
			Properties struct {
				ContainerDefinitions []struct {
					Image       map[string]string
					Environment []cfn.KeyValuePair
					Secrets     []cfn.Secret
				}
			}
		}
	}
	require.NoError(t, json.Unmarshal(out.Body, &decoded))
	container := decoded.Resources["PruneTaskDefinition"].Properties.ContainerDefinitions[0]
	assert.Equal(t, map[string]string{"Fn::Sub": testRepository + ":${ImageTag}"}, container.Image)
	assert.Equal(t, []cfn.KeyValuePair{{Name: "LOG_LEVEL", Value: "info"}}, container.Environment)
	assert.Equal(t, []cfn.Secret{{Name: "SECRET_KEY", ValueFrom: testSecretARN + ":SECRET_KEY::"}}, container.Secrets)
}

func TestSynthesizer_SynthDefaultsImageTag(t *testing.T) {
	project := testProject()
	project.Service.ImageTag = ""

	out, err := newSynthesizer(t, nil).Synth(context.Background(), Input{Project: project})
	require.NoError(t, err)
	assert.Equal(t, "latest", out.ImageTag)
	assert.Empty(t, out.ImageDigest)
	assert.Equal(t, map[string]string{"Team": "scoring"}, out.Tags)
	assert.Equal(t, "latest", aws.ToString(out.Parameters[0].ParameterValue))
}

func TestSynthesizer_SynthErrors(t *testing.T) {
	validator, err := policy.NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name        string
		synthesizer *Synthesizer
		input       func() Input
		wantErr     error
	}{
		{
			name:        "nil project",
			synthesizer: New(fakeSecrets{}, nil, validator),
			input:       func() Input { return Input{} },
			wantErr:     errors.ErrInvalidOptions,
		},
		{
			name:        "invalid schedule",
			synthesizer: New(fakeSecrets{}, nil, validator),
			input: func() Input {
				project := testProject()
				project.Tasks[0].Schedule = "hourly"
				return Input{Project: project}
			},
			wantErr: errors.ErrInvalidOptions,
		},
		{
			name:        "missing image",
			synthesizer: New(fakeSecrets{}, &fakeImages{}, validator),
			input:       func() Input { return Input{Project: testProject(), DockerTag: "missing"} },
			wantErr:     errors.ErrImageNotFound,
		},
		{
			name:        "secret lookup",
			synthesizer: New(fakeSecrets{err: errors.ErrStackNotFound}, nil, validator),
			input:       func() Input { return Input{Project: testProject()} },
			wantErr:     errors.ErrStackNotFound,
		},
		{
			name:        "policy violation",
			synthesizer: New(fakeSecrets{}, nil, denyAll{}),
			input:       func() Input { return Input{Project: testProject()} },
			wantErr:     errors.ErrPolicyViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.synthesizer.Synth(context.Background(), tt.input())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
