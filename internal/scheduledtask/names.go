package scheduledtask

import "fmt"

const (
	// ErrorPattern is the log filter pattern a task prints to signal an
	// application level failure.
	ErrorPattern = `"CRONJOB ERROR:"`

	// MetricNamespace holds the log derived metrics of every task.
	MetricNamespace = "ScheduledTasks"
)

// Names are the physical names derived from a task name.
type Names struct {
	Task                 string
	LogGroup             string
	Rule                 string
	Target               string
	EventsRole           string
	MissingInvocations   string
	FailedInvocations    string
	UnsuccessfulRuns     string
	SuccessfulRun        string
	CronJobErrorMsg      string
	CronJobErrorMsgAlarm string
}

// NamesFor returns the resource names for the task called name.
func NamesFor(name string) Names {
	return Names{
		Task:                 name,
		LogGroup:             "scheduled-" + name,
		Rule:                 "rule-" + name,
		Target:               "scheduled-" + name,
		EventsRole:           name + "-eventsRole",
		MissingInvocations:   "MissingInvocations-" + name,
		FailedInvocations:    "FailedInvocations-" + name,
		UnsuccessfulRuns:     "UnsuccessfulRuns-" + name,
		SuccessfulRun:        "SuccessfulRun-" + name,
		CronJobErrorMsg:      "CronJobErrorMsg-" + name,
		CronJobErrorMsgAlarm: "CronJobErrorMsgAlarm-" + name,
	}
}

// Alarms returns the names of every alarm a task may declare.
func (n Names) Alarms() []string {
	return []string{n.MissingInvocations, n.FailedInvocations, n.UnsuccessfulRuns, n.CronJobErrorMsgAlarm}
}

// Sentinel is the line a task prints after its command exits 0.
func Sentinel(name string) string {
	return "SUCCESS " + name
}

// SuccessPattern is the log filter pattern matching Sentinel.
func SuccessPattern(name string) string {
	return `"` + Sentinel(name) + `"`
}

// WrapCommand runs command under bash and prints the sentinel only when it
// exits 0.
func WrapCommand(name, command string) []string {
	return []string{"/bin/bash", "-c", fmt.Sprintf(`%s && echo "%s"`, command, Sentinel(name))}
}
