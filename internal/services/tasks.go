package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/rs/zerolog"
	"github.com/savaki/gox/slicex"
	apperrors "github.com/savaki/scheduled-tasks/internal/errors"
	"github.com/savaki/scheduled-tasks/internal/scheduledtask"
)

// ECSAPI is the subset of the ECS client used by TaskService.
type ECSAPI interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
}

// CloudWatchAPI is the subset of the CloudWatch client used by TaskService.
type CloudWatchAPI interface {
	DescribeAlarms(ctx context.Context, params *cloudwatch.DescribeAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error)
}

// CloudWatchLogsAPI is the subset of the CloudWatch Logs client used by TaskService.
type CloudWatchLogsAPI interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// TaskService operates on deployed scheduled tasks.
type TaskService struct {
	ecs  ECSAPI
	cw   CloudWatchAPI
	logs CloudWatchLogsAPI
}

func NewTaskService(ecsClient ECSAPI, cw CloudWatchAPI, logs CloudWatchLogsAPI) *TaskService {
	return &TaskService{
		ecs:  ecsClient,
		cw:   cw,
		logs: logs,
	}
}

// RunInput places an out of schedule run the way the schedule target does.
type RunInput struct {
	Task           string
	Cluster        string
	Subnets        []string
	SecurityGroups []string
	StartedBy      string
}

// RunNow starts the latest revision of the task immediately and returns the
// task ARN.
func (s *TaskService) RunNow(ctx context.Context, in RunInput) (string, error) {
	names := scheduledtask.NamesFor(in.Task)

	result, err := s.ecs.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(in.Cluster),
		TaskDefinition: aws.String(names.Task),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		StartedBy:      aws.String(in.StartedBy),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        in.Subnets,
				SecurityGroups: in.SecurityGroups,
				AssignPublicIp: ecstypes.AssignPublicIpDisabled,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to run task %s: %w", names.Task, err)
	}

	if len(result.Tasks) == 0 {
		msg := "no tasks launched"
		if len(result.Failures) > 0 {
			msg = aws.ToString(result.Failures[0].Reason)
		}
		return "", fmt.Errorf("%w: %s: %s", apperrors.ErrTaskNotFound, names.Task, msg)
	}

	taskArn := aws.ToString(result.Tasks[0].TaskArn)
	zerolog.Ctx(ctx).Info().
		Str("task", in.Task).
		Str("task_arn", taskArn).
		Msg("Started task")

	return taskArn, nil
}

// AlarmState is the current state of one alarm.
type AlarmState struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alarms returns the state of the alarms declared for task, sorted by name.
// Alarms that are not deployed are omitted.
func (s *TaskService) Alarms(ctx context.Context, task string) ([]AlarmState, error) {
	names := scheduledtask.NamesFor(task)

	var alarms []AlarmState
	paginator := cloudwatch.NewDescribeAlarmsPaginator(s.cw, &cloudwatch.DescribeAlarmsInput{
		AlarmNames: names.Alarms(),
		AlarmTypes: []cwtypes.AlarmType{cwtypes.AlarmTypeMetricAlarm},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe alarms for %s: %w", task, err)
		}
		alarms = append(alarms, slicex.Map(page.MetricAlarms, toAlarmState)...)
	}

	sort.Slice(alarms, func(i, j int) bool {
		return alarms[i].Name < alarms[j].Name
	})
	return alarms, nil
}

func toAlarmState(alarm cwtypes.MetricAlarm) AlarmState {
	return AlarmState{
		Name:      aws.ToString(alarm.AlarmName),
		State:     string(alarm.StateValue),
		Reason:    aws.ToString(alarm.StateReason),
		UpdatedAt: aws.ToTime(alarm.StateUpdatedTimestamp),
	}
}

// Run is a log line marking the outcome of a run.
type Run struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
}

// RecentRuns returns the success sentinels and error messages task logged
// since the given time, newest first, at most limit entries.
func (s *TaskService) RecentRuns(ctx context.Context, task string, since time.Time, limit int) ([]Run, error) {
	names := scheduledtask.NamesFor(task)
	sentinel := scheduledtask.Sentinel(task)

	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  aws.String(names.LogGroup),
		FilterPattern: aws.String(RunsFilterPattern(task)),
		StartTime:     aws.Int64(since.UnixMilli()),
	}

	var runs []Run
	paginator := cloudwatchlogs.NewFilterLogEventsPaginator(s.logs, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to filter log events for %s: %w", names.LogGroup, err)
		}
		for _, event := range page.Events {
			message := strings.TrimSpace(aws.ToString(event.Message))
			runs = append(runs, Run{
				Timestamp: time.UnixMilli(aws.ToInt64(event.Timestamp)).UTC(),
				Stream:    aws.ToString(event.LogStreamName),
				Success:   strings.Contains(message, sentinel),
				Message:   message,
			})
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// RunsFilterPattern matches either the success sentinel or the error marker.
func RunsFilterPattern(task string) string {
	return fmt.Sprintf("?%s ?%s", scheduledtask.SuccessPattern(task), scheduledtask.ErrorPattern)
}

// TaskSummary collects the health of one task.
type TaskSummary struct {
	Task   string       `json:"task"`
	Alarms []AlarmState `json:"alarms"`
	Runs   []Run        `json:"runs"`
}

// Summaries reports alarms and recent runs for every task concurrently.
func (s *TaskService) Summaries(ctx context.Context, since time.Time, limit int, tasks ...string) ([]*TaskSummary, error) {
	callback := func(ctx context.Context, task string) (*TaskSummary, error) {
		alarms, err := s.Alarms(ctx, task)
		if err != nil {
			return nil, err
		}
		runs, err := s.RecentRuns(ctx, task, since, limit)
		if err != nil {
			return nil, err
		}
		return &TaskSummary{Task: task, Alarms: alarms, Runs: runs}, nil
	}

	summaries, err := slicex.MapConcurrent(callback).
		Concurrency(8).
		CollectErrors().
		DoValues(ctx, tasks...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize tasks: %w", err)
	}
	return summaries, nil
}
