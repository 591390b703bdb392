package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/savaki/scheduled-tasks/internal/config"
	"github.com/savaki/scheduled-tasks/internal/dao/deploymentdao"
	"github.com/savaki/scheduled-tasks/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedules(t *testing.T) {
	project := &config.Project{
		Tasks: []config.Task{
			{Name: "ReScore", Schedule: "cron(0 3 * * ? *)"},
			{Name: "Heartbeat", Schedule: "rate(15 minutes)"},
			{Name: "MonthEnd", Schedule: "cron(0 0 L * ? *)"},
			{Name: "Paused", Schedule: "rate(1 day)", Disabled: true},
		},
	}
	from := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got := schedules(project, from)
	require.Len(t, got, 3)

	assert.Equal(t, "ReScore", got[0].Task)
	assert.Equal(t, []time.Time{
		time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 3, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 4, 3, 0, 0, 0, time.UTC),
	}, got[0].Next)

	assert.Equal(t, "Heartbeat", got[1].Task)
	require.Len(t, got[1].Next, scheduledRuns)
	assert.Equal(t, from.Add(15*time.Minute), got[1].Next[0])

	assert.Equal(t, "MonthEnd", got[2].Task)
	assert.Empty(t, got[2].Next)
}

func TestDisplayPreview(t *testing.T) {
	var buf bytes.Buffer
	displayPreview(&buf, previewResult{
		ChangeSet: &services.ChangeSet{
			StackName: "scorer-scheduled-tasks-dev",
			Type:      types.ChangeSetTypeUpdate,
			Changes: []services.Change{
				{Action: "Modify", LogicalID: "ReScoreTaskDefinition", ResourceType: "AWS::ECS::TaskDefinition", Replacement: "True"},
				{Action: "Add", LogicalID: "RuleReScore", ResourceType: "AWS::Events::Rule"},
			},
		},
		Schedules: []taskSchedule{
			{Task: "ReScore", Schedule: "cron(0 3 * * ? *)", Next: []time.Time{time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC)}},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Stack: scorer-scheduled-tasks-dev (update)")
	assert.Contains(t, out, "ReScoreTaskDefinition")
	assert.Contains(t, out, "(replacement)")
	assert.Contains(t, out, "2024-05-02T03:00:00Z")
	assert.NotContains(t, out, "No changes")
}

func TestDisplayPreview_Empty(t *testing.T) {
	var buf bytes.Buffer
	displayPreview(&buf, previewResult{
		ChangeSet: &services.ChangeSet{StackName: "s", Type: types.ChangeSetTypeUpdate, Empty: true},
	})
	assert.Contains(t, buf.String(), "No changes")
}

func TestDisplayStatus(t *testing.T) {
	t.Run("not deployed", func(t *testing.T) {
		var buf bytes.Buffer
		displayStatus(&buf, "missing", statusResult{})
		assert.Contains(t, buf.String(), "Not deployed")
	})

	t.Run("deployed", func(t *testing.T) {
		var buf bytes.Buffer
		displayStatus(&buf, "scorer", statusResult{
			Stack: &services.StackStatus{
				StackName: "scorer",
				Status:    "UPDATE_COMPLETE",
			},
			Tasks: []*services.TaskSummary{
				{
					Task:   "ReScore",
					Alarms: []services.AlarmState{{Name: "ReScore-unsuccessful-runs", State: "OK"}},
					Runs: []services.Run{
						{Timestamp: time.Date(2024, 5, 2, 3, 4, 0, 0, time.UTC), Success: true, Message: "SUCCESS ReScore"},
						{Timestamp: time.Date(2024, 5, 1, 3, 4, 0, 0, time.UTC), Message: "CRONJOB ERROR: boom"},
					},
				},
				{Task: "Idle"},
			},
		})

		out := buf.String()
		assert.Contains(t, out, "Status: UPDATE_COMPLETE")
		assert.Contains(t, out, "ReScore-unsuccessful-runs")
		assert.Contains(t, out, "2024-05-02T03:04:00Z  SUCCESS  SUCCESS ReScore")
		assert.Contains(t, out, "ERROR    CRONJOB ERROR: boom")
		assert.Contains(t, out, "No alarms")
		assert.Contains(t, out, "No runs found")
	})
}

func TestDisplayHistory(t *testing.T) {
	var buf bytes.Buffer
	displayHistory(&buf, "scorer", []deploymentdao.Record{
		{
			ImageTag:     "3f2a9c1",
			Actor:        "arn:aws:sts::123456789012:assumed-role/deployer/ci",
			Status:       deploymentdao.StatusFailed,
			StatusReason: "stack scorer is UPDATE_ROLLBACK_COMPLETE",
			StackEvents:  []string{"ReScoreTaskDefinition: CannotPullContainerError"},
			CreatedAt:    time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC).Unix(),
		},
	})

	out := buf.String()
	assert.Contains(t, out, "2024-05-02T03:00:00Z")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "UPDATE_ROLLBACK_COMPLETE")
	assert.Contains(t, out, "CannotPullContainerError")
}
