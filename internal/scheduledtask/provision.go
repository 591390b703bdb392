// Package scheduledtask declares a scheduled Fargate task: its log group, task
// definition, EventBridge schedule, the role EventBridge assumes to launch it
// and the alarms derived from its invocations and logs.
package scheduledtask

import (
	"fmt"
	"strconv"

	"github.com/savaki/scheduled-tasks/internal/cfn"
	"github.com/savaki/scheduled-tasks/internal/errors"
)

const (
	TaskExecutionRolePolicyArn = "arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"

	PolicySessionChannels = "session-channels"
	PolicySecretsRead     = "secrets-read"
	PolicyRunTask         = "run-task"
	PolicyPassRole        = "pass-role"
)

// Config is the service level configuration shared by every task of a
// service: the image, the identities the task runs as, and where it runs.
type Config struct {
	Image            cfn.Value
	ExecutionRoleArn cfn.Value
	TaskRoleArn      cfn.Value
	ClusterArn       cfn.Value
	Subnets          []cfn.Value
	SecurityGroupID  cfn.Value
	AlertTopicArn    cfn.Value
}

// Input describes one scheduled task.
type Input struct {
	// Name namespaces every derived resource.
	Name        string
	Config      Config
	Environment []cfn.KeyValuePair
	Secrets     []cfn.Secret
	// Command is run by /bin/bash -c.
	Command string
	// ScheduleExpression is an EventBridge rate(...) or cron(...) expression.
	ScheduleExpression string
	// SecretArn scopes the secrets read permission of the events role.
	SecretArn cfn.Value
	Options   Options
}

type logicalIDs struct {
	LogGroup             string
	TaskDefinition       string
	Rule                 string
	EventsRole           string
	MissingInvocations   string
	FailedInvocations    string
	UnsuccessfulRuns     string
	SuccessfulRun        string
	CronJobErrorMsg      string
	CronJobErrorMsgAlarm string
}

func logicalIDsFor(n Names) logicalIDs {
	return logicalIDs{
		LogGroup:             cfn.LogicalID(n.LogGroup, "LogGroup"),
		TaskDefinition:       cfn.LogicalID(n.Task, "TaskDefinition"),
		Rule:                 cfn.LogicalID(n.Rule),
		EventsRole:           cfn.LogicalID(n.EventsRole),
		MissingInvocations:   cfn.LogicalID(n.MissingInvocations),
		FailedInvocations:    cfn.LogicalID(n.FailedInvocations),
		UnsuccessfulRuns:     cfn.LogicalID(n.UnsuccessfulRuns),
		SuccessfulRun:        cfn.LogicalID(n.SuccessfulRun),
		CronJobErrorMsg:      cfn.LogicalID(n.CronJobErrorMsg),
		CronJobErrorMsgAlarm: cfn.LogicalID(n.CronJobErrorMsgAlarm),
	}
}

// LogicalIDs lists every logical ID Provision may declare for a task named
// name. Two tasks of one stack must not share any of them.
func LogicalIDs(name string) []string {
	ids := logicalIDsFor(NamesFor(name))
	return []string{
		ids.LogGroup,
		ids.TaskDefinition,
		ids.Rule,
		ids.EventsRole,
		ids.MissingInvocations,
		ids.FailedInvocations,
		ids.UnsuccessfulRuns,
		ids.SuccessfulRun,
		ids.CronJobErrorMsg,
		ids.CronJobErrorMsgAlarm,
	}
}

// Provision declares the scheduled task described by in on stack and
// returns the task definition ARN.
//
// The events role and the rule target are declared once the task definition
// ARN, the task and execution role ARNs and the secret ARN are all
// available, since the role's permissions are scoped to them and the target
// needs the role.
func Provision(stack *cfn.Stack, in Input) (cfn.Value, error) {
	if in.Name == "" {
		return cfn.Value{}, fmt.Errorf("%w: name required", errors.ErrInvalidOptions)
	}
	if err := in.Options.Validate(); err != nil {
		return cfn.Value{}, fmt.Errorf("task %s: %w", in.Name, err)
	}

	var (
		opts  = in.Options.WithDefaults()
		names = NamesFor(in.Name)
		ids   = logicalIDsFor(names)
		cfg   = in.Config
	)

	_, err := stack.Declare(ids.LogGroup, cfn.TypeLogGroup, &cfn.LogGroup{
		LogGroupName:    names.LogGroup,
		RetentionInDays: LogRetentionDays,
	})
	if err != nil {
		return cfn.Value{}, err
	}
	logGroup := cfn.Ref(ids.LogGroup)

	taskDefinition := &cfn.TaskDefinition{
		Family:                  names.Task,
		Cpu:                     strconv.Itoa(opts.Cpu),
		Memory:                  strconv.Itoa(opts.Memory),
		NetworkMode:             "awsvpc",
		RequiresCompatibilities: []string{"FARGATE"},
		ExecutionRoleArn:        cfg.ExecutionRoleArn,
		TaskRoleArn:             cfg.TaskRoleArn,
		ContainerDefinitions: []cfn.ContainerDefinition{
			{
				Name:        names.Task,
				Image:       cfg.Image,
				Essential:   true,
				Command:     WrapCommand(in.Name, in.Command),
				Environment: in.Environment,
				Secrets:     in.Secrets,
				LogConfiguration: &cfn.LogConfiguration{
					LogDriver: "awslogs",
					Options: map[string]cfn.Value{
						"awslogs-group":         logGroup,
						"awslogs-region":        cfn.Sub("${AWS::Region}"),
						"awslogs-stream-prefix": cfn.String(names.Task),
					},
				},
			},
		},
	}
	if opts.EphemeralStorageGiB > 0 {
		taskDefinition.EphemeralStorage = &cfn.EphemeralStorage{SizeInGiB: opts.EphemeralStorageGiB}
	}
	if _, err := stack.Declare(ids.TaskDefinition, cfn.TypeTaskDefinition, taskDefinition); err != nil {
		return cfn.Value{}, err
	}
	taskDefinitionArn := cfn.Ref(ids.TaskDefinition)

	rule := &cfn.EventsRule{
		Name:               names.Rule,
		Description:        fmt.Sprintf("Runs %s on %s", in.Name, in.ScheduleExpression),
		ScheduleExpression: in.ScheduleExpression,
		State:              "ENABLED",
	}
	if _, err := stack.Declare(ids.Rule, cfn.TypeEventsRule, rule); err != nil {
		return cfn.Value{}, err
	}

	joined := cfn.All(taskDefinitionArn, cfg.TaskRoleArn, cfg.ExecutionRoleArn, in.SecretArn)
	err = joined.Apply(stack, func(scope *cfn.Scope, v []cfn.Value) error {
		var (
			taskDefinitionArn = v[0]
			taskRoleArn       = v[1]
			executionRoleArn  = v[2]
			secretArn         = v[3]
		)

		role := eventsRole(names, taskDefinitionArn, taskRoleArn, executionRoleArn, secretArn)
		if _, err := scope.Declare(ids.EventsRole, cfn.TypeRole, role); err != nil {
			return err
		}

		if _, err := scope.Bind(ids.Rule); err != nil {
			return err
		}
		rule.AddTarget(eventsTarget(names, cfg, taskDefinitionArn, cfn.GetAtt(ids.EventsRole, "Arn")))
		return nil
	})
	if err != nil {
		return cfn.Value{}, err
	}

	if opts.alarmsEnabled() {
		if err := declareAlarms(stack, names, ids, cfg, opts, logGroup); err != nil {
			return cfn.Value{}, err
		}
	}

	stack.Output(ids.TaskDefinition+"Arn", fmt.Sprintf("Task definition of %s", in.Name), taskDefinitionArn, "")
	stack.Output(ids.Rule+"Arn", fmt.Sprintf("Schedule rule of %s", in.Name), cfn.GetAtt(ids.Rule, "Arn"), "")

	return taskDefinitionArn, nil
}

// eventsRole is assumed by EventBridge to launch the task. It may read the
// service secret, run this task definition and pass the task's two roles.
func eventsRole(names Names, taskDefinitionArn, taskRoleArn, executionRoleArn, secretArn cfn.Value) *cfn.Role {
	return &cfn.Role{
		RoleName:                 names.EventsRole,
		AssumeRolePolicyDocument: cfn.AssumeRole("ecs-tasks.amazonaws.com", "events.amazonaws.com"),
		ManagedPolicyArns:        []string{TaskExecutionRolePolicyArn},
		Policies: []cfn.RolePolicy{
			{
				PolicyName: PolicySessionChannels,
				PolicyDocument: cfn.NewPolicy(cfn.Allow([]string{
					"ssmmessages:CreateControlChannel",
					"ssmmessages:CreateDataChannel",
					"ssmmessages:OpenControlChannel",
					"ssmmessages:OpenDataChannel",
				}, cfn.String("*"))),
			},
			{
				PolicyName:     PolicySecretsRead,
				PolicyDocument: cfn.NewPolicy(cfn.Allow([]string{"secretsmanager:GetSecretValue"}, secretArn)),
			},
			{
				PolicyName:     PolicyRunTask,
				PolicyDocument: cfn.NewPolicy(cfn.Allow([]string{"ecs:RunTask"}, taskDefinitionArn)),
			},
			{
				PolicyName:     PolicyPassRole,
				PolicyDocument: cfn.NewPolicy(cfn.Allow([]string{"iam:PassRole"}, executionRoleArn, taskRoleArn)),
			},
		},
	}
}

func eventsTarget(names Names, cfg Config, taskDefinitionArn, roleArn cfn.Value) cfn.EventsTarget {
	vpc := cfn.AwsVpcConfiguration{
		AssignPublicIp: "DISABLED",
		Subnets:        cfg.Subnets,
	}
	if !cfg.SecurityGroupID.IsZero() {
		vpc.SecurityGroups = []cfn.Value{cfg.SecurityGroupID}
	}

	return cfn.EventsTarget{
		Id:      names.Target,
		Arn:     cfg.ClusterArn,
		RoleArn: roleArn,
		EcsParameters: &cfn.EcsParameters{
			TaskDefinitionArn: taskDefinitionArn,
			TaskCount:         1,
			LaunchType:        "FARGATE",
			NetworkConfiguration: &cfn.NetworkConfiguration{
				AwsVpcConfiguration: vpc,
			},
		},
	}
}
