package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/savaki/scheduled-tasks/internal/cfn"
	"github.com/savaki/scheduled-tasks/internal/errors"
	"github.com/savaki/scheduled-tasks/internal/scheduledtask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseProject = `
stack: scorer-tasks-{env}
description: Scorer scheduled tasks
parameters:
  Team: scoring
service:
  repository: 123456789012.dkr.ecr.us-west-2.amazonaws.com/scorer
  image_tag: latest
  execution_role_arn: import:scorer-ExecutionRoleArn
  task_role_arn: import:scorer-TaskRoleArn
  cluster_arn: import:scorer-ClusterArn
  subnets:
    - import:vpc-PrivateSubnet1
    - import:vpc-PrivateSubnet2
  security_group_id: import:scorer-SecurityGroupId
  alert_topic_arn: ssm:/dev/scorer/alert-topic-arn
  secret: scorer/api
  environment:
    - name: DJANGO_SETTINGS_MODULE
      value: scorer.settings
    - name: LOG_LEVEL
      value: info
tasks:
  - name: ReScore
    command: python manage.py rescore
    schedule: rate(1 hour)
    alarm_period_seconds: 3600
    enable_invocation_alerts: true
  - name: Prune
    command: python manage.py prune
    schedule: cron(0 3 * * ? *)
    memory: 4096
`

const prodOverlay = `
service:
  alert_topic_arn: arn:aws:sns:us-west-2:123456789012:prod-alerts
  environment:
    - name: LOG_LEVEL
      value: warning
tasks:
  - name: Prune
    cpu: 1024
    environment:
      - name: BATCH_SIZE
        value: "500"
  - name: Export
    command: python manage.py export
    schedule: cron(0 6 ? * MON *)
`

type fakeParameterStore map[string]string

func (f fakeParameterStore) GetParameter(_ context.Context, name string) (string, error) {
	value, ok := f[name]
	if !ok {
		return "", fmt.Errorf("parameter %s not found", name)
	}
	return value, nil
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return filepath.Join(dir, DefaultFilename)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("base only", func(t *testing.T) {
		path := writeProject(t, map[string]string{DefaultFilename: baseProject})

		project, err := Load(ctx, path, "dev")
		require.NoError(t, err)
		assert.Equal(t, "scorer-tasks-dev", project.Stack)
		require.Len(t, project.Tasks, 2)

		rescore := project.Tasks[0]
		assert.Equal(t, "ReScore", rescore.Name)
		assert.Equal(t, "rate(1 hour)", rescore.Schedule)
		assert.Equal(t, scheduledtask.Options{AlarmPeriodSeconds: 3600, EnableInvocationAlerts: true}, rescore.Options)
		assert.Equal(t, 4096, project.Tasks[1].Memory)
		require.NoError(t, project.Validate())
	})

	t.Run("overlay", func(t *testing.T) {
		path := writeProject(t, map[string]string{
			DefaultFilename:             baseProject,
			"scheduled-tasks.prod.yaml": prodOverlay,
		})

		project, err := Load(ctx, path, "prod")
		require.NoError(t, err)
		assert.Equal(t, "scorer-tasks-prod", project.Stack)
		assert.Equal(t, "arn:aws:sns:us-west-2:123456789012:prod-alerts", project.Service.AlertTopicArn)
		assert.Equal(t, "import:scorer-ClusterArn", project.Service.ClusterArn)
		assert.Equal(t, []EnvVar{
			{Name: "DJANGO_SETTINGS_MODULE", Value: "scorer.settings"},
			{Name: "LOG_LEVEL", Value: "warning"},
		}, project.Service.Environment)

		require.Len(t, project.Tasks, 3)
		prune := project.Tasks[1]
		assert.Equal(t, 1024, prune.Cpu)
		assert.Equal(t, 4096, prune.Memory)
		assert.Equal(t, "python manage.py prune", prune.Command)
		assert.Equal(t, "Export", project.Tasks[2].Name)
		require.NoError(t, project.Validate())
	})

	t.Run("missing", func(t *testing.T) {
		_, err := Load(ctx, filepath.Join(t.TempDir(), DefaultFilename), "dev")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("overlay turns switches off", func(t *testing.T) {
		path := writeProject(t, map[string]string{
			DefaultFilename: baseProject,
			"scheduled-tasks.dev.yaml": `
tasks:
  - name: ReScore
    alarm_period_seconds: 0
    enable_invocation_alerts: false
`,
			"scheduled-tasks.stg.yaml": `
tasks:
  - name: ReScore
    enable_invocation_alerts: false
  - name: Prune
    disabled: true
`,
		})

		dev, err := Load(ctx, path, "dev")
		require.NoError(t, err)
		assert.Equal(t, scheduledtask.Options{}, dev.Tasks[0].Options)

		stg, err := Load(ctx, path, "stg")
		require.NoError(t, err)
		assert.Equal(t, scheduledtask.Options{AlarmPeriodSeconds: 3600}, stg.Tasks[0].Options)
		assert.True(t, stg.Tasks[1].Disabled)

		base, err := Parse([]byte(baseProject))
		require.NoError(t, err)
		reenable, err := Parse([]byte("tasks:\n  - name: Prune\n    disabled: false\n"))
		require.NoError(t, err)
		base.Tasks[1].Disabled = true
		base.Merge(reenable)
		assert.False(t, base.Tasks[1].Disabled)
	})

	t.Run("malformed overlay", func(t *testing.T) {
		path := writeProject(t, map[string]string{
			DefaultFilename:            baseProject,
			"scheduled-tasks.dev.yaml": "tasks: {",
		})
		_, err := Load(ctx, path, "dev")
		assert.Error(t, err)
	})
}

func TestProject_Validate(t *testing.T) {
	valid := func() *Project {
		project, err := Parse([]byte(baseProject))
		require.NoError(t, err)
		return project
	}

	tests := []struct {
		name    string
		mutate  func(p *Project)
		wantMsg string
	}{
		{
			name:    "missing stack",
			mutate:  func(p *Project) { p.Stack = "" },
			wantMsg: "stack is required",
		},
		{
			name:    "missing secret",
			mutate:  func(p *Project) { p.Service.Secret = "" },
			wantMsg: "service.secret is required",
		},
		{
			name:    "duplicate task",
			mutate:  func(p *Project) { p.Tasks = append(p.Tasks, p.Tasks[0]) },
			wantMsg: "task ReScore: declared more than once",
		},
		{
			name:    "bad schedule",
			mutate:  func(p *Project) { p.Tasks[0].Schedule = "every hour" },
			wantMsg: "task ReScore:",
		},
		{
			name:    "negative memory",
			mutate:  func(p *Project) { p.Tasks[1].Memory = -1 },
			wantMsg: "memory must not be negative",
		},
		{
			name:    "missing command",
			mutate:  func(p *Project) { p.Tasks[1].Command = "" },
			wantMsg: "task Prune: command is required",
		},
		{
			name: "names differing in separators",
			mutate: func(p *Project) {
				p.Tasks[0].Name = "weekly-report"
				p.Tasks[1].Name = "weekly_report"
			},
			wantMsg: "task weekly_report: resource id ScheduledWeeklyReportLogGroup collides with task weekly-report",
		},
		{
			name: "names differing in case",
			mutate: func(p *Project) {
				task := p.Tasks[1]
				task.Name = "prune"
				p.Tasks = append(p.Tasks, task)
			},
			wantMsg: "task prune: resource id ScheduledPruneLogGroup collides with task Prune",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project := valid()
			tt.mutate(project)

			err := project.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidOptions)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestProject_Resolve(t *testing.T) {
	project, err := Parse([]byte(baseProject))
	require.NoError(t, err)
	project.Parameters["Owner"] = "ssm:/dev/scorer/owner"
	project.Tasks[0].Environment = []EnvVar{{Name: "API_URL", Value: "ssm: /dev/scorer/api-url"}}

	store := fakeParameterStore{
		"/dev/scorer/alert-topic-arn": "arn:aws:sns:us-west-2:123456789012:dev-alerts",
		"/dev/scorer/owner":           "scoring-team",
		"/dev/scorer/api-url":         "https://api.internal",
	}
	require.NoError(t, project.Resolve(context.Background(), store))

	assert.Equal(t, "arn:aws:sns:us-west-2:123456789012:dev-alerts", project.Service.AlertTopicArn)
	assert.Equal(t, "scoring-team", project.Parameters["Owner"])
	assert.Equal(t, "scoring", project.Parameters["Team"])
	assert.Equal(t, "https://api.internal", project.Tasks[0].Environment[0].Value)
	assert.Equal(t, "import:scorer-ClusterArn", project.Service.ClusterArn)

	project.Service.Secret = "ssm:/dev/scorer/missing"
	assert.Error(t, project.Resolve(context.Background(), store))
}

func TestProject_Task(t *testing.T) {
	project, err := Parse([]byte(baseProject))
	require.NoError(t, err)

	task, err := project.Task("Prune")
	require.NoError(t, err)
	assert.Equal(t, "python manage.py prune", task.Command)

	_, err = project.Task("Nope")
	assert.ErrorIs(t, err, errors.ErrTaskNotFound)

	project.Tasks[1].Disabled = true
	enabled := project.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "ReScore", enabled[0].Name)
}

func TestService_TaskConfig(t *testing.T) {
	project, err := Parse([]byte(baseProject))
	require.NoError(t, err)

	image := cfn.Sub(project.Service.Repository + ":${ImageTag}")
	cfg := project.Service.TaskConfig(image)

	assert.Equal(t, image, cfg.Image)
	assert.Equal(t, cfn.ImportValue("scorer-ExecutionRoleArn"), cfg.ExecutionRoleArn)
	assert.Equal(t, []cfn.Value{
		cfn.ImportValue("vpc-PrivateSubnet1"),
		cfn.ImportValue("vpc-PrivateSubnet2"),
	}, cfg.Subnets)
	assert.Equal(t, cfn.String("ssm:/dev/scorer/alert-topic-arn"), cfg.AlertTopicArn)
}

func TestTask_EnvironmentWith(t *testing.T) {
	task := Task{
		Name: "Prune",
		Environment: []EnvVar{
			{Name: "BATCH_SIZE", Value: "500"},
			{Name: "LOG_LEVEL", Value: "debug"},
		},
	}
	service := []EnvVar{
		{Name: "DJANGO_SETTINGS_MODULE", Value: "scorer.settings"},
		{Name: "LOG_LEVEL", Value: "info"},
	}

	got := task.EnvironmentWith(service)
	assert.Equal(t, []cfn.KeyValuePair{
		{Name: "DJANGO_SETTINGS_MODULE", Value: "scorer.settings"},
		{Name: "LOG_LEVEL", Value: "debug"},
		{Name: "BATCH_SIZE", Value: "500"},
	}, got)
	assert.Equal(t, "info", service[1].Value)
}
