package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/savaki/gox/slicex"
	"github.com/savaki/scheduled-tasks/internal/cfn"
	apperrors "github.com/savaki/scheduled-tasks/internal/errors"
	"github.com/segmentio/ksuid"
)

const (
	// MaxTemplateBody is the largest template CloudFormation accepts inline.
	MaxTemplateBody = 51200

	changeSetPrefix = "scheduled-tasks"
	maxFailedEvents = 10
)

// CloudFormationAPI is the subset of the CloudFormation client used by StackService.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
	CreateChangeSet(ctx context.Context, params *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error)
	DescribeChangeSet(ctx context.Context, params *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error)
	ExecuteChangeSet(ctx context.Context, params *cloudformation.ExecuteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ExecuteChangeSetOutput, error)
	DeleteChangeSet(ctx context.Context, params *cloudformation.DeleteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteChangeSetOutput, error)
	ListExports(ctx context.Context, params *cloudformation.ListExportsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListExportsOutput, error)
}

// S3API is the subset of the S3 client used to stage large templates.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Deployment is a synthesized template bound to a stack.
type Deployment struct {
	StackName  string
	Template   []byte
	Parameters []types.Parameter
	Tags       map[string]string
}

// Change is one resource change of a change set.
type Change struct {
	Action       string `json:"action"`
	LogicalID    string `json:"logical_id"`
	ResourceType string `json:"resource_type"`
	Replacement  string `json:"replacement,omitempty"`
}

// ChangeSet is a previewed deployment.
type ChangeSet struct {
	StackName string              `json:"stack_name"`
	Name      string              `json:"name"`
	ID        string              `json:"id,omitempty"`
	Type      types.ChangeSetType `json:"type"`
	Changes   []Change            `json:"changes"`
	// Empty is set when the template matches the deployed stack.
	Empty bool `json:"empty"`
}

// StackStatus reports the state of a deployed stack.
type StackStatus struct {
	StackName    string            `json:"stack_name"`
	Status       string            `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`
	Failed       bool              `json:"failed"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	FailedEvents []StackEvent      `json:"failed_events,omitempty"`
}

type StackEvent struct {
	LogicalID string    `json:"logical_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type StackService struct {
	cf      CloudFormationAPI
	s3      S3API
	bucket  string
	timeout time.Duration
	newID   func() string

	mu      sync.Mutex
	exports map[string]string
}

// NewStackService returns a StackService. bucket may be empty, in which
// case templates larger than MaxTemplateBody are rejected.
func NewStackService(cf CloudFormationAPI, s3Client S3API, bucket string) *StackService {
	return &StackService{
		cf:      cf,
		s3:      s3Client,
		bucket:  bucket,
		timeout: 30 * time.Minute,
		newID:   func() string { return ksuid.New().String() },
	}
}

// Exists reports whether stackName exists. A stack left in
// REVIEW_IN_PROGRESS by an unexecuted create change set does not count.
func (s *StackService) Exists(ctx context.Context, stackName string) (bool, error) {
	result, err := s.cf.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isStackMissing(err) {
			return false, nil
		}
		return false, err
	}
	if len(result.Stacks) == 0 {
		return false, nil
	}
	return result.Stacks[0].StackStatus != types.StackStatusReviewInProgress, nil
}

// Preview creates a change set for the deployment and describes its changes.
func (s *StackService) Preview(ctx context.Context, d Deployment) (cs *ChangeSet, err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		event := logger.Info().
			Interface("error", err).
			Str("stack_name", d.StackName).
			Dur("duration", time.Since(begin))
		if cs != nil {
			event = event.Str("change_set", cs.Name).Int("changes", len(cs.Changes))
		}
		event.Msg("Previewed stack")
	}(time.Now())

	exists, err := s.Exists(ctx, d.StackName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if stack exists: %w", err)
	}

	cs = &ChangeSet{
		StackName: d.StackName,
		Name:      fmt.Sprintf("%s-%s", changeSetPrefix, s.newID()),
		Type:      types.ChangeSetTypeUpdate,
	}
	if !exists {
		cs.Type = types.ChangeSetTypeCreate
	}

	input := &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(d.StackName),
		ChangeSetName: aws.String(cs.Name),
		ChangeSetType: cs.Type,
		Parameters:    d.Parameters,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
		Tags: stackTags(d.Tags),
	}
	if err := s.attachTemplate(ctx, d, input); err != nil {
		return nil, err
	}

	created, err := s.cf.CreateChangeSet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create change set %s: %w", cs.Name, err)
	}
	cs.ID = aws.ToString(created.Id)

	describe := &cloudformation.DescribeChangeSetInput{
		StackName:     aws.String(d.StackName),
		ChangeSetName: aws.String(cs.Name),
	}
	waitErr := cloudformation.NewChangeSetCreateCompleteWaiter(s.cf).Wait(ctx, describe, s.timeout)

	for {
		out, err := s.cf.DescribeChangeSet(ctx, describe)
		if err != nil {
			return nil, fmt.Errorf("failed to describe change set %s: %w", cs.Name, err)
		}

		if out.Status == types.ChangeSetStatusFailed {
			reason := aws.ToString(out.StatusReason)
			if isNoChanges(reason) {
				cs.Empty = true
				s.discard(ctx, describe)
				return cs, nil
			}
			return nil, fmt.Errorf("%w: %s: %s", apperrors.ErrChangeSetFailed, cs.Name, reason)
		}
		if waitErr != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrChangeSetFailed, cs.Name, waitErr)
		}

		cs.Changes = append(cs.Changes, slicex.Map(out.Changes, toChange)...)

		if out.NextToken == nil {
			break
		}
		describe.NextToken = out.NextToken
	}

	return cs, nil
}

// Apply executes a previewed change set and waits for the stack to settle.
func (s *StackService) Apply(ctx context.Context, cs *ChangeSet) (err error) {
	logger := zerolog.Ctx(ctx)

	if cs.Empty {
		logger.Info().Str("stack_name", cs.StackName).Msg("No updates needed for stack")
		return nil
	}

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Str("stack_name", cs.StackName).
			Str("change_set", cs.Name).
			Str("operation", string(cs.Type)).
			Dur("duration", time.Since(begin)).
			Msg("Applied change set")
	}(time.Now())

	_, err = s.cf.ExecuteChangeSet(ctx, &cloudformation.ExecuteChangeSetInput{
		StackName:     aws.String(cs.StackName),
		ChangeSetName: aws.String(cs.Name),
	})
	if err != nil {
		return fmt.Errorf("failed to execute change set %s: %w", cs.Name, err)
	}

	describe := &cloudformation.DescribeStacksInput{StackName: aws.String(cs.StackName)}
	if cs.Type == types.ChangeSetTypeCreate {
		err = cloudformation.NewStackCreateCompleteWaiter(s.cf).Wait(ctx, describe, s.timeout)
	} else {
		err = cloudformation.NewStackUpdateCompleteWaiter(s.cf).Wait(ctx, describe, s.timeout)
	}
	if err != nil {
		status, statusErr := s.Status(ctx, cs.StackName)
		if statusErr != nil {
			return fmt.Errorf("stack %s did not settle: %w", cs.StackName, err)
		}
		return fmt.Errorf("stack %s finished in %s: %s: %w", cs.StackName, status.Status, describeFailures(status), err)
	}

	return nil
}

// Status returns the stack status, its outputs and, for failed stacks, the
// most recent failed resource events.
func (s *StackService) Status(ctx context.Context, stackName string) (*StackStatus, error) {
	logger := zerolog.Ctx(ctx)

	result, err := s.cf.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isStackMissing(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrStackNotFound, stackName)
		}
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}

	if len(result.Stacks) == 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrStackNotFound, stackName)
	}

	stack := result.Stacks[0]
	status := &StackStatus{
		StackName:    stackName,
		Status:       string(stack.StackStatus),
		StatusReason: aws.ToString(stack.StackStatusReason),
		Failed:       isFailedStatus(stack.StackStatus),
		Outputs:      map[string]string{},
	}
	for _, output := range stack.Outputs {
		status.Outputs[aws.ToString(output.OutputKey)] = aws.ToString(output.OutputValue)
	}

	logger.Info().
		Str("stack_name", stackName).
		Str("status", status.Status).
		Msg("Stack status")

	if status.Failed {
		events, err := s.failedEvents(ctx, stackName)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get stack events")
		}
		status.FailedEvents = events
	}

	return status, nil
}

// Resolve returns the deployed value of v. Literals are returned as is and
// imports are looked up in the exports of the current region.
func (s *StackService) Resolve(ctx context.Context, v cfn.Value) (string, error) {
	if v.IsLiteral() {
		return v.Literal(), nil
	}

	name, ok := v.ExportName()
	if !ok {
		return "", fmt.Errorf("cannot resolve %s outside a stack", v)
	}

	exports, err := s.listExports(ctx)
	if err != nil {
		return "", err
	}

	value, ok := exports[name]
	if !ok {
		return "", fmt.Errorf("export %s not found", name)
	}
	return value, nil
}

func (s *StackService) listExports(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exports != nil {
		return s.exports, nil
	}

	exports := map[string]string{}
	paginator := cloudformation.NewListExportsPaginator(s.cf, &cloudformation.ListExportsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list exports: %w", err)
		}
		for _, export := range page.Exports {
			exports[aws.ToString(export.Name)] = aws.ToString(export.Value)
		}
	}

	s.exports = exports
	return exports, nil
}

func (s *StackService) failedEvents(ctx context.Context, stackName string) ([]StackEvent, error) {
	result, err := s.cf.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, err
	}

	var events []StackEvent
	for i := range result.StackEvents {
		if len(events) >= maxFailedEvents {
			break
		}
		event := &result.StackEvents[i]
		switch event.ResourceStatus {
		case types.ResourceStatusCreateFailed, types.ResourceStatusUpdateFailed, types.ResourceStatusDeleteFailed:
			events = append(events, StackEvent{
				LogicalID: aws.ToString(event.LogicalResourceId),
				Status:    string(event.ResourceStatus),
				Reason:    aws.ToString(event.ResourceStatusReason),
				Timestamp: aws.ToTime(event.Timestamp),
			})
		}
	}

	return events, nil
}

// attachTemplate sends small templates inline and stages larger ones in S3.
func (s *StackService) attachTemplate(ctx context.Context, d Deployment, input *cloudformation.CreateChangeSetInput) error {
	if len(d.Template) <= MaxTemplateBody {
		input.TemplateBody = aws.String(string(d.Template))
		return nil
	}

	if s.bucket == "" {
		return fmt.Errorf("%w: %d bytes exceeds %d and no template bucket is configured",
			apperrors.ErrTemplateTooLarge, len(d.Template), MaxTemplateBody)
	}

	key := fmt.Sprintf("templates/%s/%s.json", d.StackName, s.newID())
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(d.Template),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload template to s3://%s/%s: %w", s.bucket, key, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("bucket", s.bucket).
		Str("key", key).
		Int("length", len(d.Template)).
		Msg("Staged template in S3")

	input.TemplateURL = aws.String(fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key))
	return nil
}

// Discard deletes a previewed change set that will not be applied.
func (s *StackService) Discard(ctx context.Context, cs *ChangeSet) {
	if cs == nil || cs.Empty {
		return
	}
	s.discard(ctx, &cloudformation.DescribeChangeSetInput{
		StackName:     aws.String(cs.StackName),
		ChangeSetName: aws.String(cs.Name),
	})
}

func (s *StackService) discard(ctx context.Context, describe *cloudformation.DescribeChangeSetInput) {
	_, err := s.cf.DeleteChangeSet(ctx, &cloudformation.DeleteChangeSetInput{
		StackName:     describe.StackName,
		ChangeSetName: describe.ChangeSetName,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("change_set", aws.ToString(describe.ChangeSetName)).
			Msg("Failed to delete change set")
	}
}

func toChange(c types.Change) Change {
	rc := c.ResourceChange
	if rc == nil {
		return Change{Action: string(c.Type)}
	}
	return Change{
		Action:       string(rc.Action),
		LogicalID:    aws.ToString(rc.LogicalResourceId),
		ResourceType: aws.ToString(rc.ResourceType),
		Replacement:  string(rc.Replacement),
	}
}

func stackTags(tags map[string]string) []types.Tag {
	result := []types.Tag{
		{
			Key:   aws.String("ManagedBy"),
			Value: aws.String("scheduled-tasks"),
		},
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		if k != "ManagedBy" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		result = append(result, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return result
}

func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

func isNoChanges(reason string) bool {
	return strings.Contains(reason, "didn't contain changes") ||
		strings.Contains(reason, "No updates are to be performed")
}

func isFailedStatus(status types.StackStatus) bool {
	failedStatuses := []types.StackStatus{
		types.StackStatusCreateFailed,
		types.StackStatusUpdateFailed,
		types.StackStatusDeleteFailed,
		types.StackStatusRollbackFailed,
		types.StackStatusUpdateRollbackFailed,
		types.StackStatusRollbackComplete,
		types.StackStatusUpdateRollbackComplete,
	}

	for _, failedStatus := range failedStatuses {
		if status == failedStatus {
			return true
		}
	}
	return false
}

func describeFailures(status *StackStatus) string {
	if len(status.FailedEvents) == 0 {
		return status.StatusReason
	}
	reasons := make([]string, 0, len(status.FailedEvents))
	for _, event := range status.FailedEvents {
		reasons = append(reasons, fmt.Sprintf("%s: %s", event.LogicalID, event.Reason))
	}
	return strings.Join(reasons, "; ")
}
