package scheduledtask

import (
	"fmt"

	"github.com/savaki/scheduled-tasks/internal/cfn"
)

// declareAlarms attaches the log metric filters and alarms of a task.
//
// Unsuccessful runs are invocations minus sentinel matches over the same
// period. A run that logs the sentinel twice hides a failed run in that
// period, and retries within one period count as extra invocations.
func declareAlarms(stack *cfn.Stack, names Names, ids logicalIDs, cfg Config, opts Options, logGroup cfn.Value) error {
	var (
		period  = opts.AlarmPeriodSeconds
		actions []cfn.Value
		rule    = []cfn.Dimension{{Name: "RuleName", Value: cfn.String(names.Rule)}}
	)
	if !cfg.AlertTopicArn.IsZero() {
		actions = []cfn.Value{cfg.AlertTopicArn}
	}

	if opts.EnableInvocationAlerts {
		_, err := stack.Declare(ids.MissingInvocations, cfn.TypeAlarm, &cfn.Alarm{
			AlarmName:          names.MissingInvocations,
			AlarmDescription:   fmt.Sprintf("%s was not invoked in the last %d seconds", names.Task, period),
			ActionsEnabled:     true,
			AlarmActions:       actions,
			ComparisonOperator: "LessThanThreshold",
			EvaluationPeriods:  1,
			Threshold:          1,
			TreatMissingData:   "notBreaching",
			MetricName:         "Invocations",
			Namespace:          "AWS/Events",
			Statistic:          "Sum",
			Period:             period,
			Dimensions:         rule,
		})
		if err != nil {
			return err
		}
	}

	_, err := stack.Declare(ids.FailedInvocations, cfn.TypeAlarm, &cfn.Alarm{
		AlarmName:          names.FailedInvocations,
		AlarmDescription:   fmt.Sprintf("EventBridge failed to start %s", names.Task),
		ActionsEnabled:     true,
		AlarmActions:       actions,
		ComparisonOperator: "GreaterThanThreshold",
		EvaluationPeriods:  1,
		Threshold:          0,
		TreatMissingData:   "notBreaching",
		MetricName:         "FailedInvocations",
		Namespace:          "AWS/Events",
		Statistic:          "Sum",
		Period:             period,
		Dimensions:         rule,
	})
	if err != nil {
		return err
	}

	if err := declareLogMetric(stack, ids.SuccessfulRun, names.SuccessfulRun, SuccessPattern(names.Task), logGroup); err != nil {
		return err
	}

	unsuccessful, err := stack.Declare(ids.UnsuccessfulRuns, cfn.TypeAlarm, &cfn.Alarm{
		AlarmName:          names.UnsuccessfulRuns,
		AlarmDescription:   fmt.Sprintf("%s ran without logging %q", names.Task, Sentinel(names.Task)),
		ActionsEnabled:     true,
		AlarmActions:       actions,
		ComparisonOperator: "GreaterThanThreshold",
		EvaluationPeriods:  1,
		Threshold:          0,
		TreatMissingData:   "notBreaching",
		Metrics: []cfn.MetricDataQuery{
			{
				Id: "invocations",
				MetricStat: &cfn.MetricStat{
					Metric: cfn.Metric{MetricName: "Invocations", Namespace: "AWS/Events", Dimensions: rule},
					Period: period,
					Stat:   "Sum",
				},
			},
			{
				Id: "successes",
				MetricStat: &cfn.MetricStat{
					Metric: cfn.Metric{MetricName: names.SuccessfulRun, Namespace: MetricNamespace},
					Period: period,
					Stat:   "Sum",
				},
			},
			{
				Id:         "unsuccessful",
				Expression: "invocations - successes",
				Label:      names.UnsuccessfulRuns,
				ReturnData: true,
			},
		},
	})
	if err != nil {
		return err
	}
	unsuccessful.DependsOn = append(unsuccessful.DependsOn, ids.SuccessfulRun)

	if err := declareLogMetric(stack, ids.CronJobErrorMsg, names.CronJobErrorMsg, ErrorPattern, logGroup); err != nil {
		return err
	}

	errorAlarm, err := stack.Declare(ids.CronJobErrorMsgAlarm, cfn.TypeAlarm, &cfn.Alarm{
		AlarmName:          names.CronJobErrorMsgAlarm,
		AlarmDescription:   fmt.Sprintf("%s logged %s", names.Task, ErrorPattern),
		ActionsEnabled:     true,
		AlarmActions:       actions,
		ComparisonOperator: "GreaterThanOrEqualToThreshold",
		EvaluationPeriods:  1,
		Threshold:          1,
		TreatMissingData:   "notBreaching",
		MetricName:         names.CronJobErrorMsg,
		Namespace:          MetricNamespace,
		Statistic:          "Sum",
		Period:             period,
	})
	if err != nil {
		return err
	}
	errorAlarm.DependsOn = append(errorAlarm.DependsOn, ids.CronJobErrorMsg)

	return nil
}

// declareLogMetric counts log lines matching pattern as metric name. The
// metric reports 0 when nothing matched so metric math sees no gaps.
func declareLogMetric(stack *cfn.Stack, logicalID, name, pattern string, logGroup cfn.Value) error {
	zero := 0.0
	_, err := stack.Declare(logicalID, cfn.TypeMetricFilter, &cfn.MetricFilter{
		FilterName:    name,
		LogGroupName:  logGroup,
		FilterPattern: pattern,
		MetricTransformations: []cfn.MetricTransformation{
			{
				MetricName:      name,
				MetricNamespace: MetricNamespace,
				MetricValue:     "1",
				DefaultValue:    &zero,
			},
		},
	})
	return err
}
