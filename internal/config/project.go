// Package config loads the project file that lists a service's scheduled
// tasks, merges the environment overlay over it and resolves Parameter Store
// references.
package config

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savaki/scheduled-tasks/internal/cfn"
	"github.com/savaki/scheduled-tasks/internal/errors"
	"github.com/savaki/scheduled-tasks/internal/schedule"
	"github.com/savaki/scheduled-tasks/internal/scheduledtask"
	"github.com/savaki/scheduled-tasks/internal/utils"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFilename is read when no project file is given.
	DefaultFilename = "scheduled-tasks.yaml"

	ssmPrefix = "ssm:"
)

// Project is the contents of a project file.
type Project struct {
	// Stack is the CloudFormation stack name. "{env}" is replaced by the
	// environment name.
	Stack       string            `yaml:"stack"`
	Description string            `yaml:"description,omitempty"`
	Parameters  map[string]string `yaml:"parameters,omitempty"`
	Tags        map[string]string `yaml:"tags,omitempty"`
	Service     Service           `yaml:"service"`
	Tasks       []Task            `yaml:"tasks"`
}

// Service holds the settings every task of the service shares. String values
// may be literals, "import:<ExportName>" or "ssm:<parameter path>".
type Service struct {
	Name string `yaml:"name,omitempty"`

	// Repository is the image repository without a tag.
	Repository string `yaml:"repository"`
	// ImageTag is the default tag; docker_tag overrides it at deploy time.
	ImageTag string `yaml:"image_tag,omitempty"`

	ExecutionRoleArn string   `yaml:"execution_role_arn"`
	TaskRoleArn      string   `yaml:"task_role_arn"`
	ClusterArn       string   `yaml:"cluster_arn"`
	Subnets          []string `yaml:"subnets"`
	SecurityGroupID  string   `yaml:"security_group_id,omitempty"`
	AlertTopicArn    string   `yaml:"alert_topic_arn,omitempty"`

	// Secret is the name or ARN of the Secrets Manager secret whose JSON keys
	// become container secrets.
	Secret string `yaml:"secret"`

	Environment []EnvVar `yaml:"environment,omitempty"`
}

// EnvVar is a container environment variable. Order is preserved.
type EnvVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Task is one scheduled task of the service.
type Task struct {
	Name     string `yaml:"name"`
	Command  string `yaml:"command"`
	Schedule string `yaml:"schedule"`

	scheduledtask.Options `yaml:",inline"`

	// Environment is appended to the service environment; a task variable
	// replaces a service variable of the same name.
	Environment []EnvVar `yaml:"environment,omitempty"`

	// Disabled tasks are left out of the template.
	Disabled bool `yaml:"disabled,omitempty"`

	set switches
}

// switches records the settings a document gave explicitly, so an overlay
// can turn off what the base file turned on.
type switches struct {
	AlarmPeriodSeconds     *int  `yaml:"alarm_period_seconds"`
	EnableInvocationAlerts *bool `yaml:"enable_invocation_alerts"`
	Disabled               *bool `yaml:"disabled"`
}

func (t *Task) UnmarshalYAML(node *yaml.Node) error {
	type plain Task
	if err := node.Decode((*plain)(t)); err != nil {
		return err
	}
	return node.Decode(&t.set)
}

// ParameterStore resolves ssm: references.
type ParameterStore interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Load reads path and, when env is set and path has a sibling
// <name>.<env>.<ext>, merges that overlay over it.
func Load(ctx context.Context, path, env string) (*Project, error) {
	logger := zerolog.Ctx(ctx).With().Str("path", path).Str("env", env).Logger()

	project, err := readFile(path)
	if err != nil {
		return nil, err
	}

	if env != "" {
		overlayPath := utils.EnvFilename(path, env)
		overlay, err := readFile(overlayPath)
		switch {
		case err == nil:
			project.Merge(overlay)
			logger.Debug().Str("overlay", overlayPath).Msg("merged environment overlay")
		case os.IsNotExist(err):
			logger.Debug().Str("overlay", overlayPath).Msg("no environment overlay found")
		default:
			return nil, err
		}
		project.Stack = strings.ReplaceAll(project.Stack, "{env}", env)
	}

	return project, nil
}

// Parse decodes a project document.
func Parse(data []byte) (*Project, error) {
	var project Project
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("failed to parse project: %w", err)
	}
	return &project, nil
}

func readFile(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	project, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return project, nil
}

// Merge applies the non-empty fields of overlay to p, plus the task switches
// (alarm_period_seconds, enable_invocation_alerts, disabled) the overlay sets
// explicitly, even to zero or false. Tasks are matched by
// name; overlay tasks with new names are appended.
func (p *Project) Merge(overlay *Project) {
	p.Stack = pick(p.Stack, overlay.Stack)
	p.Description = pick(p.Description, overlay.Description)
	p.Parameters = mergeMaps(p.Parameters, overlay.Parameters)
	p.Tags = mergeMaps(p.Tags, overlay.Tags)
	p.Service.merge(overlay.Service)

	for _, task := range overlay.Tasks {
		i := slices.IndexFunc(p.Tasks, func(t Task) bool { return t.Name == task.Name })
		if i < 0 {
			p.Tasks = append(p.Tasks, task)
			continue
		}
		p.Tasks[i].merge(task)
	}
}

func (s *Service) merge(o Service) {
	s.Name = pick(s.Name, o.Name)
	s.Repository = pick(s.Repository, o.Repository)
	s.ImageTag = pick(s.ImageTag, o.ImageTag)
	s.ExecutionRoleArn = pick(s.ExecutionRoleArn, o.ExecutionRoleArn)
	s.TaskRoleArn = pick(s.TaskRoleArn, o.TaskRoleArn)
	s.ClusterArn = pick(s.ClusterArn, o.ClusterArn)
	s.SecurityGroupID = pick(s.SecurityGroupID, o.SecurityGroupID)
	s.AlertTopicArn = pick(s.AlertTopicArn, o.AlertTopicArn)
	s.Secret = pick(s.Secret, o.Secret)
	if len(o.Subnets) > 0 {
		s.Subnets = slices.Clone(o.Subnets)
	}
	s.Environment = mergeEnv(s.Environment, o.Environment)
}

func (t *Task) merge(o Task) {
	t.Command = pick(t.Command, o.Command)
	t.Schedule = pick(t.Schedule, o.Schedule)
	if o.Cpu != 0 {
		t.Cpu = o.Cpu
	}
	if o.Memory != 0 {
		t.Memory = o.Memory
	}
	if o.EphemeralStorageGiB != 0 {
		t.EphemeralStorageGiB = o.EphemeralStorageGiB
	}
	if o.set.AlarmPeriodSeconds != nil {
		t.AlarmPeriodSeconds = *o.set.AlarmPeriodSeconds
	} else if o.AlarmPeriodSeconds != 0 {
		t.AlarmPeriodSeconds = o.AlarmPeriodSeconds
	}
	if o.set.EnableInvocationAlerts != nil {
		t.EnableInvocationAlerts = *o.set.EnableInvocationAlerts
	} else if o.EnableInvocationAlerts {
		t.EnableInvocationAlerts = true
	}
	if o.set.Disabled != nil {
		t.Disabled = *o.set.Disabled
	} else if o.Disabled {
		t.Disabled = true
	}
	t.Environment = mergeEnv(t.Environment, o.Environment)
}

// Validate checks the project is complete enough to synthesize.
func (p *Project) Validate() error {
	var problems []string
	if p.Stack == "" {
		problems = append(problems, "stack is required")
	}
	if p.Service.Repository == "" {
		problems = append(problems, "service.repository is required")
	}
	if p.Service.ClusterArn == "" {
		problems = append(problems, "service.cluster_arn is required")
	}
	if len(p.Service.Subnets) == 0 {
		problems = append(problems, "service.subnets is required")
	}
	if p.Service.Secret == "" {
		problems = append(problems, "service.secret is required")
	}

	seen := map[string]bool{}
	owners := map[string]string{} // logical ID -> task name
	for i, task := range p.Tasks {
		switch {
		case task.Name == "":
			problems = append(problems, fmt.Sprintf("tasks[%d]: name is required", i))
			continue
		case seen[task.Name]:
			problems = append(problems, fmt.Sprintf("task %s: declared more than once", task.Name))
		default:
			problems = append(problems, collisions(owners, task.Name)...)
		}
		seen[task.Name] = true

		if task.Command == "" {
			problems = append(problems, fmt.Sprintf("task %s: command is required", task.Name))
		}
		if _, err := schedule.Parse(task.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("task %s: %v", task.Name, err))
		}
		if err := task.Options.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("task %s: %v", task.Name, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errors.ErrInvalidOptions, strings.Join(problems, "; "))
	}
	return nil
}

// collisions claims the logical IDs of task in owners and reports the tasks
// that already hold one of them. Names differing only in separators or case,
// like weekly-report and weekly_report, derive the same IDs.
func collisions(owners map[string]string, task string) []string {
	var problems []string
	reported := map[string]bool{}
	for _, id := range scheduledtask.LogicalIDs(task) {
		other, ok := owners[id]
		if !ok {
			owners[id] = task
			continue
		}
		if !reported[other] {
			reported[other] = true
			problems = append(problems, fmt.Sprintf("task %s: resource id %s collides with task %s", task, id, other))
		}
	}
	return problems
}

// Task returns the task called name.
func (p *Project) Task(name string) (Task, error) {
	i := slices.IndexFunc(p.Tasks, func(t Task) bool { return t.Name == name })
	if i < 0 {
		return Task{}, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, name)
	}
	return p.Tasks[i], nil
}

// Enabled returns the tasks that are not disabled, in file order.
func (p *Project) Enabled() []Task {
	var tasks []Task
	for _, task := range p.Tasks {
		if !task.Disabled {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// Resolve replaces every ssm:<path> value with the parameter's value.
func (p *Project) Resolve(ctx context.Context, store ParameterStore) error {
	resolve := func(s *string) error {
		path, ok := strings.CutPrefix(*s, ssmPrefix)
		if !ok {
			return nil
		}
		value, err := store.GetParameter(ctx, strings.TrimSpace(path))
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", *s, err)
		}
		*s = value
		return nil
	}

	fields := []*string{
		&p.Service.Repository,
		&p.Service.ImageTag,
		&p.Service.ExecutionRoleArn,
		&p.Service.TaskRoleArn,
		&p.Service.ClusterArn,
		&p.Service.SecurityGroupID,
		&p.Service.AlertTopicArn,
		&p.Service.Secret,
	}
	for i := range p.Service.Subnets {
		fields = append(fields, &p.Service.Subnets[i])
	}
	for i := range p.Service.Environment {
		fields = append(fields, &p.Service.Environment[i].Value)
	}
	for i := range p.Tasks {
		for j := range p.Tasks[i].Environment {
			fields = append(fields, &p.Tasks[i].Environment[j].Value)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(p.Parameters)) {
		v := p.Parameters[k]
		if err := resolve(&v); err != nil {
			return err
		}
		p.Parameters[k] = v
	}

	for _, field := range fields {
		if err := resolve(field); err != nil {
			return err
		}
	}
	return nil
}

// TaskConfig converts the service settings into provisioner configuration.
// image is passed in since its tag is usually a template parameter.
func (s Service) TaskConfig(image cfn.Value) scheduledtask.Config {
	subnets := make([]cfn.Value, 0, len(s.Subnets))
	for _, subnet := range s.Subnets {
		subnets = append(subnets, cfn.Parse(subnet))
	}

	return scheduledtask.Config{
		Image:            image,
		ExecutionRoleArn: cfn.Parse(s.ExecutionRoleArn),
		TaskRoleArn:      cfn.Parse(s.TaskRoleArn),
		ClusterArn:       cfn.Parse(s.ClusterArn),
		Subnets:          subnets,
		SecurityGroupID:  cfn.Parse(s.SecurityGroupID),
		AlertTopicArn:    cfn.Parse(s.AlertTopicArn),
	}
}

// EnvironmentWith returns the service environment followed by the task's, a
// task variable replacing a service variable of the same name in place.
func (t Task) EnvironmentWith(service []EnvVar) []cfn.KeyValuePair {
	merged := mergeEnv(slices.Clone(service), t.Environment)

	pairs := make([]cfn.KeyValuePair, 0, len(merged))
	for _, e := range merged {
		pairs = append(pairs, cfn.KeyValuePair{Name: e.Name, Value: e.Value})
	}
	return pairs
}

func mergeEnv(base, overlay []EnvVar) []EnvVar {
	for _, e := range overlay {
		i := slices.IndexFunc(base, func(b EnvVar) bool { return b.Name == e.Name })
		if i < 0 {
			base = append(base, e)
			continue
		}
		base[i] = e
	}
	return base
}

func mergeMaps(base, overlay map[string]string) map[string]string {
	if len(overlay) == 0 {
		return base
	}
	if base == nil {
		base = map[string]string{}
	}
	maps.Copy(base, overlay)
	return base
}

func pick(base, overlay string) string {
	if overlay != "" {
		return overlay
	}
	return base
}
