package cfn

// Resource types emitted by this repository.
const (
	TypeLogGroup       = "AWS::Logs::LogGroup"
	TypeMetricFilter   = "AWS::Logs::MetricFilter"
	TypeTaskDefinition = "AWS::ECS::TaskDefinition"
	TypeEventsRule     = "AWS::Events::Rule"
	TypeRole           = "AWS::IAM::Role"
	TypeAlarm          = "AWS::CloudWatch::Alarm"
)

// ----------------------------------------------------------------------------
// Logs
// ----------------------------------------------------------------------------

type LogGroup struct {
	LogGroupName    string `json:"LogGroupName"`
	RetentionInDays int    `json:"RetentionInDays,omitempty"`
}

type MetricFilter struct {
	FilterName            string                 `json:"FilterName"`
	LogGroupName          Value                  `json:"LogGroupName"`
	FilterPattern         string                 `json:"FilterPattern"`
	MetricTransformations []MetricTransformation `json:"MetricTransformations"`
}

type MetricTransformation struct {
	MetricName      string   `json:"MetricName"`
	MetricNamespace string   `json:"MetricNamespace"`
	MetricValue     string   `json:"MetricValue"`
	DefaultValue    *float64 `json:"DefaultValue,omitempty"`
}

// ----------------------------------------------------------------------------
// ECS
// ----------------------------------------------------------------------------

type TaskDefinition struct {
	Family                  string                `json:"Family"`
	Cpu                     string                `json:"Cpu"`
	Memory                  string                `json:"Memory"`
	NetworkMode             string                `json:"NetworkMode"`
	RequiresCompatibilities []string              `json:"RequiresCompatibilities"`
	ExecutionRoleArn        Value                 `json:"ExecutionRoleArn,omitzero"`
	TaskRoleArn             Value                 `json:"TaskRoleArn,omitzero"`
	EphemeralStorage        *EphemeralStorage     `json:"EphemeralStorage,omitempty"`
	ContainerDefinitions    []ContainerDefinition `json:"ContainerDefinitions"`
}

type EphemeralStorage struct {
	SizeInGiB int `json:"SizeInGiB"`
}

type ContainerDefinition struct {
	Name             string            `json:"Name"`
	Image            Value             `json:"Image"`
	Essential        bool              `json:"Essential"`
	Command          []string          `json:"Command,omitempty"`
	Environment      []KeyValuePair    `json:"Environment,omitempty"`
	Secrets          []Secret          `json:"Secrets,omitempty"`
	LogConfiguration *LogConfiguration `json:"LogConfiguration,omitempty"`
}

type KeyValuePair struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// Secret injects a Secrets Manager or SSM value into the container
// environment. ValueFrom is "<secret-arn>:<json-key>::" for a JSON key.
type Secret struct {
	Name      string `json:"Name"`
	ValueFrom string `json:"ValueFrom"`
}

type LogConfiguration struct {
	LogDriver string           `json:"LogDriver"`
	Options   map[string]Value `json:"Options,omitempty"`
}

// ----------------------------------------------------------------------------
// EventBridge
// ----------------------------------------------------------------------------

type EventsRule struct {
	Name               string         `json:"Name"`
	Description        string         `json:"Description,omitempty"`
	ScheduleExpression string         `json:"ScheduleExpression"`
	State              string         `json:"State"`
	Targets            []EventsTarget `json:"Targets,omitempty"`
}

// AddTarget appends a target to the rule. CloudFormation declares rule
// targets inline on AWS::Events::Rule.
func (r *EventsRule) AddTarget(target EventsTarget) {
	r.Targets = append(r.Targets, target)
}

type EventsTarget struct {
	Id            string         `json:"Id"`
	Arn           Value          `json:"Arn"`
	RoleArn       Value          `json:"RoleArn,omitzero"`
	EcsParameters *EcsParameters `json:"EcsParameters,omitempty"`
}

type EcsParameters struct {
	TaskDefinitionArn    Value                 `json:"TaskDefinitionArn"`
	TaskCount            int                   `json:"TaskCount"`
	LaunchType           string                `json:"LaunchType"`
	NetworkConfiguration *NetworkConfiguration `json:"NetworkConfiguration,omitempty"`
}

type NetworkConfiguration struct {
	AwsVpcConfiguration AwsVpcConfiguration `json:"AwsVpcConfiguration"`
}

type AwsVpcConfiguration struct {
	AssignPublicIp string  `json:"AssignPublicIp"`
	SecurityGroups []Value `json:"SecurityGroups,omitempty"`
	Subnets        []Value `json:"Subnets"`
}

// ----------------------------------------------------------------------------
// IAM
// ----------------------------------------------------------------------------

type Role struct {
	RoleName                 string         `json:"RoleName"`
	AssumeRolePolicyDocument PolicyDocument `json:"AssumeRolePolicyDocument"`
	ManagedPolicyArns        []string       `json:"ManagedPolicyArns,omitempty"`
	Policies                 []RolePolicy   `json:"Policies,omitempty"`
}

// RolePolicy is an inline policy embedded in a role.
type RolePolicy struct {
	PolicyName     string         `json:"PolicyName"`
	PolicyDocument PolicyDocument `json:"PolicyDocument"`
}

// Policy returns the inline policy named name, or nil.
func (r *Role) Policy(name string) *RolePolicy {
	for i := range r.Policies {
		if r.Policies[i].PolicyName == name {
			return &r.Policies[i]
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// CloudWatch
// ----------------------------------------------------------------------------

// Alarm is either a single-metric alarm (MetricName, Namespace, Statistic,
// Period) or a metric math alarm (Metrics).
type Alarm struct {
	AlarmName          string            `json:"AlarmName"`
	AlarmDescription   string            `json:"AlarmDescription,omitempty"`
	ActionsEnabled     bool              `json:"ActionsEnabled"`
	AlarmActions       []Value           `json:"AlarmActions,omitempty"`
	ComparisonOperator string            `json:"ComparisonOperator"`
	EvaluationPeriods  int               `json:"EvaluationPeriods"`
	Threshold          float64           `json:"Threshold"`
	TreatMissingData   string            `json:"TreatMissingData,omitempty"`
	MetricName         string            `json:"MetricName,omitempty"`
	Namespace          string            `json:"Namespace,omitempty"`
	Statistic          string            `json:"Statistic,omitempty"`
	Period             int               `json:"Period,omitempty"`
	Dimensions         []Dimension       `json:"Dimensions,omitempty"`
	Metrics            []MetricDataQuery `json:"Metrics,omitempty"`
}

type Dimension struct {
	Name  string `json:"Name"`
	Value Value  `json:"Value"`
}

type MetricDataQuery struct {
	Id         string      `json:"Id"`
	Expression string      `json:"Expression,omitempty"`
	Label      string      `json:"Label,omitempty"`
	MetricStat *MetricStat `json:"MetricStat,omitempty"`
	ReturnData bool        `json:"ReturnData"`
}

type MetricStat struct {
	Metric Metric `json:"Metric"`
	Period int    `json:"Period"`
	Stat   string `json:"Stat"`
}

type Metric struct {
	MetricName string      `json:"MetricName"`
	Namespace  string      `json:"Namespace"`
	Dimensions []Dimension `json:"Dimensions,omitempty"`
}
