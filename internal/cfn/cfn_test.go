package cfn

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/savaki/scheduled-tasks/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValue_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{name: "literal", value: String("arn:aws:sns:us-east-1:1:alerts"), want: `"arn:aws:sns:us-east-1:1:alerts"`},
		{name: "ref", value: Ref("TaskDefinition"), want: `{"Ref":"TaskDefinition"}`},
		{name: "getatt", value: GetAtt("Role", "Arn"), want: `{"Fn::GetAtt":["Role","Arn"]}`},
		{name: "import", value: ImportValue("scorer-TaskRoleArn"), want: `{"Fn::ImportValue":"scorer-TaskRoleArn"}`},
		{name: "sub", value: Sub("${AWS::Region}"), want: `{"Fn::Sub":"${AWS::Region}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestParse(t *testing.T) {
	assert.Equal(t, ImportValue("scorer-TaskRoleArn"), Parse("import:scorer-TaskRoleArn"))
	assert.Equal(t, ImportValue("spaced"), Parse("import: spaced"))
	assert.Equal(t, String("arn:aws:iam::1:role/x"), Parse("arn:aws:iam::1:role/x"))
	assert.True(t, Parse("").IsZero())
}

func TestValues_MarshalJSON(t *testing.T) {
	one, err := json.Marshal(Values{String("a")})
	require.NoError(t, err)
	assert.Equal(t, `"a"`, string(one))

	many, err := json.Marshal(Values{String("a"), Ref("B")})
	require.NoError(t, err)
	assert.JSONEq(t, `["a",{"Ref":"B"}]`, string(many))
}

func TestValue_OmitZero(t *testing.T) {
	data, err := json.Marshal(EventsTarget{Id: "t", Arn: String("arn")})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "RoleArn")
}

func TestLogicalID(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{parts: []string{"rule-ReScore"}, want: "RuleReScore"},
		{parts: []string{"ReScore-eventsRole"}, want: "ReScoreEventsRole"},
		{parts: []string{"scheduled-weekly_data_dump", "LogGroup"}, want: "ScheduledWeeklyDataDumpLogGroup"},
		{parts: []string{"MissingInvocations-ReScore"}, want: "MissingInvocationsReScore"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, LogicalID(tt.parts...))
		})
	}
}

func TestStack_Declare(t *testing.T) {
	stack := NewStack("test")

	_, err := stack.Declare("LogGroup", TypeLogGroup, &LogGroup{LogGroupName: "a"})
	require.NoError(t, err)

	_, err = stack.Declare("LogGroup", TypeLogGroup, &LogGroup{LogGroupName: "b"})
	assert.ErrorIs(t, err, errors.ErrDuplicateLogicalID)

	_, err = stack.Declare("", TypeLogGroup, &LogGroup{})
	assert.Error(t, err)

	assert.Equal(t, "a", stack.Resource("LogGroup").Properties.(*LogGroup).LogGroupName)
}

func TestAll_Apply(t *testing.T) {
	stack := NewStack("test")
	_, err := stack.Declare("TaskDefinition", TypeTaskDefinition, &TaskDefinition{Family: "job"})
	require.NoError(t, err)
	_, err = stack.Declare("Rule", TypeEventsRule, &EventsRule{Name: "rule-job"})
	require.NoError(t, err)

	joined := All(Ref("TaskDefinition"), ImportValue("role"), String("secret"), GetAtt("TaskDefinition", "TaskDefinitionArn"))
	assert.Equal(t, []string{"TaskDefinition"}, joined.DependsOn())

	calls := 0
	err = joined.Apply(stack, func(scope *Scope, values []Value) error {
		calls++
		require.Len(t, values, 4)
		assert.Equal(t, ImportValue("role"), values[1])
		assert.Equal(t, String("secret"), values[2])

		if _, err := scope.Declare("Role", TypeRole, &Role{RoleName: "r"}); err != nil {
			return err
		}
		_, err := scope.Bind("Rule")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	assert.Equal(t, []string{"TaskDefinition"}, stack.Resource("Role").DependsOn)
	assert.Equal(t, []string{"TaskDefinition"}, stack.Resource("Rule").DependsOn)
	assert.Empty(t, stack.Resource("TaskDefinition").DependsOn)
}

func TestAll_ApplyUnknownBind(t *testing.T) {
	err := All(String("x")).Apply(NewStack("test"), func(scope *Scope, _ []Value) error {
		_, err := scope.Bind("Missing")
		return err
	})
	assert.ErrorIs(t, err, errors.ErrUnknownLogicalID)
}

func TestTemplate_Render(t *testing.T) {
	stack := NewStack("scheduled tasks")
	_, err := stack.Declare("LogGroup", TypeLogGroup, &LogGroup{LogGroupName: "scheduled-job", RetentionInDays: 90})
	require.NoError(t, err)
	_, err = stack.Parameter("ImageTag", Parameter{Type: "String"})
	require.NoError(t, err)
	stack.Output("LogGroupName", "", Ref("LogGroup"), "")

	data, err := stack.Template().JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"AWSTemplateFormatVersion": "2010-09-09",
		"Description": "scheduled tasks",
		"Parameters": {"ImageTag": {"Type": "String"}},
		"Resources": {
			"LogGroup": {
				"Type": "AWS::Logs::LogGroup",
				"Properties": {"LogGroupName": "scheduled-job", "RetentionInDays": 90}
			}
		},
		"Outputs": {"LogGroupName": {"Value": {"Ref": "LogGroup"}}}
	}`, string(data))

	out, err := stack.Template().YAML()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "AWSTemplateFormatVersion:"), string(out))
	assert.Contains(t, string(out), "2010-09-09")
	assert.Contains(t, string(out), "RetentionInDays: 90")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Contains(t, decoded["Resources"], "LogGroup")
}

func TestStack_ParameterTypeConflict(t *testing.T) {
	stack := NewStack("test")
	_, err := stack.Parameter("ImageTag", Parameter{Type: "String"})
	require.NoError(t, err)
	_, err = stack.Parameter("ImageTag", Parameter{Type: "String", Description: "again"})
	require.NoError(t, err)
	_, err = stack.Parameter("ImageTag", Parameter{Type: "Number"})
	assert.Error(t, err)
}

func TestValue_ExportName(t *testing.T) {
	name, ok := Parse("import:scorer-ClusterArn").ExportName()
	assert.True(t, ok)
	assert.Equal(t, "scorer-ClusterArn", name)

	_, ok = String("arn").ExportName()
	assert.False(t, ok)

	_, ok = Ref("Rule").ExportName()
	assert.False(t, ok)
}

func TestAssumeRole(t *testing.T) {
	data, err := json.Marshal(AssumeRole("ecs-tasks.amazonaws.com", "events.amazonaws.com"))
	require.NoError(t, err)

	want := `{"Version":"2012-10-17","Statement":[` +
		`{"Effect":"Allow","Principal":{"Service":"ecs-tasks.amazonaws.com"},"Action":"sts:AssumeRole"},` +
		`{"Effect":"Allow","Principal":{"Service":"events.amazonaws.com"},"Action":"sts:AssumeRole"}]}`
	assert.JSONEq(t, want, string(data))
}

func TestNewPolicy(t *testing.T) {
	policy := NewPolicy(
		Allow([]string{"ecs:RunTask"}, GetAtt("ReScoreTaskDefinition", "TaskDefinitionArn")),
		Allow([]string{"iam:PassRole"}, String("arn:aws:iam::1:role/a"), String("arn:aws:iam::1:role/b")),
	)

	data, err := json.Marshal(policy)
	require.NoError(t, err)

	want := `{"Version":"2012-10-17","Statement":[` +
		`{"Effect":"Allow","Action":"ecs:RunTask","Resource":{"Fn::GetAtt":["ReScoreTaskDefinition","TaskDefinitionArn"]}},` +
		`{"Effect":"Allow","Action":"iam:PassRole","Resource":["arn:aws:iam::1:role/a","arn:aws:iam::1:role/b"]}]}`
	assert.JSONEq(t, want, string(data))
}
