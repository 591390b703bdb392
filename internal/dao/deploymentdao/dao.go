package deploymentdao

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/segmentio/ksuid"
)

// skPrefix keeps deployments apart from the lock record sharing the partition.
const skPrefix = "DEPLOY#"

// PK represents the partition key: {Env}/{Stack}
type PK string

// NewPK creates a partition key from env and stack
func NewPK(env, stack string) PK {
	return PK(fmt.Sprintf("%s/%s", env, stack))
}

// ParsePK parses a partition key into env and stack components
func ParsePK(pk PK) (env, stack string, err error) {
	parts := strings.Split(string(pk), "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {env}/{stack}", pk)
	}
	return parts[0], parts[1], nil
}

// String returns the string representation
func (pk PK) String() string {
	return string(pk)
}

// SK represents the sort key: DEPLOY#{KSUID}
type SK string

// NewSK creates a sort key from a deployment KSUID
func NewSK(deploymentID string) SK {
	return SK(skPrefix + deploymentID)
}

// ParseSK returns the deployment KSUID of a sort key
func ParseSK(sk SK) (string, error) {
	id, ok := strings.CutPrefix(string(sk), skPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("invalid SK format: %s, expected %s{ksuid}", sk, skPrefix)
	}
	return id, nil
}

// String returns the string representation
func (sk SK) String() string {
	return string(sk)
}

// ID represents a deployment ID in format {env}/{stack}:DEPLOY#{ksuid}
// Example: dev/scorer-scheduled-tasks:DEPLOY#2HZ3xyz...
type ID string

// NewID creates an ID from env, stack and deployment KSUID
func NewID(env, stack, deploymentID string) ID {
	return ID(fmt.Sprintf("%s:%s", NewPK(env, stack), NewSK(deploymentID)))
}

// ParseID parses an ID into env, stack and deployment KSUID
func ParseID(id ID) (env, stack, deploymentID string, err error) {
	pk, sk, ok := strings.Cut(string(id), ":")
	if !ok {
		return "", "", "", fmt.Errorf("invalid ID format: %s, expected {env}/{stack}:%s{ksuid}", id, skPrefix)
	}
	env, stack, err = ParsePK(PK(pk))
	if err != nil {
		return "", "", "", err
	}
	deploymentID, err = ParseSK(SK(sk))
	if err != nil {
		return "", "", "", err
	}
	return env, stack, deploymentID, nil
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// DeploymentStatus represents the status of a deployment
type DeploymentStatus string

const (
	StatusInProgress DeploymentStatus = "IN_PROGRESS"
	StatusSuccess    DeploymentStatus = "SUCCESS"
	StatusFailed     DeploymentStatus = "FAILED"
)

// Record represents one apply of a stack
type Record struct {
	PK           PK               `ddb:"hash" dynamodbav:"pk"`           // {Env}/{Stack}
	SK           SK               `ddb:"range" dynamodbav:"sk"`          // DEPLOY#{KSUID}
	ImageTag     string           `dynamodbav:"image_tag"`               // tag the tasks run
	ImageDigest  string           `dynamodbav:"image_digest,omitempty"`  // digest the tag pointed at
	ChangeSet    string           `dynamodbav:"change_set,omitempty"`    // executed change set name
	Tasks        []string         `dynamodbav:"tasks,omitempty"`         // enabled tasks
	Actor        string           `dynamodbav:"actor,omitempty"`         // caller identity
	Status       DeploymentStatus `dynamodbav:"status"`                  // IN_PROGRESS|SUCCESS|FAILED
	StatusReason string           `dynamodbav:"status_reason,omitempty"` // CF status or error
	StackEvents  []string         `dynamodbav:"stack_events,omitempty"`  // recent failed events
	CreatedAt    int64            `dynamodbav:"created_at"`              // Unix timestamp
	UpdatedAt    int64            `dynamodbav:"updated_at"`              // Unix timestamp
	FinishedAt   int64            `dynamodbav:"finished_at,omitempty"`   // Unix timestamp
}

// GetID returns the ID for this record
func (r *Record) GetID() ID {
	env, stack, _ := ParsePK(r.PK)
	deploymentID, _ := ParseSK(r.SK)
	return NewID(env, stack, deploymentID)
}

// CreateInput contains fields for creating a deployment record
type CreateInput struct {
	Env         string
	Stack       string
	ImageTag    string
	ImageDigest string
	Tasks       []string
	Actor       string
}

// UpdateInput contains fields for updating a deployment record
type UpdateInput struct {
	ID           ID
	Status       DeploymentStatus
	ChangeSet    string
	StatusReason string
	StackEvents  []string
}

// DAO provides data access operations for deployment history
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
	now   func() time.Time
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
		now:   time.Now,
	}
}

// Create records a deployment as IN_PROGRESS
func (d *DAO) Create(ctx context.Context, input CreateInput) (*Record, error) {
	now := d.now()

	record := &Record{
		PK:          NewPK(input.Env, input.Stack),
		SK:          NewSK(ksuid.New().String()),
		ImageTag:    input.ImageTag,
		ImageDigest: input.ImageDigest,
		Tasks:       input.Tasks,
		Actor:       input.Actor,
		Status:      StatusInProgress,
		CreatedAt:   now.Unix(),
		UpdatedAt:   now.Unix(),
	}

	if err := d.table.Put(record).RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to create deployment record: %w", err)
	}

	return record, nil
}

// Find retrieves a deployment record by ID
func (d *DAO) Find(ctx context.Context, id ID) (*Record, error) {
	env, stack, deploymentID, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	var record Record
	err = d.table.Get(NewPK(env, stack).String()).
		Range(NewSK(deploymentID).String()).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("deployment record not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return nil, fmt.Errorf("deployment record not found: %s", id)
	}

	return &record, nil
}

// UpdateStatus updates a deployment record with its outcome
func (d *DAO) UpdateStatus(ctx context.Context, input UpdateInput) error {
	env, stack, deploymentID, err := ParseID(input.ID)
	if err != nil {
		return err
	}
	now := d.now().Unix()

	update := d.table.Update(NewPK(env, stack).String()).
		Range(NewSK(deploymentID).String()).
		Set("#Status = ?", string(input.Status)).
		Set("#UpdatedAt = ?", now)

	if input.ChangeSet != "" {
		update = update.Set("#ChangeSet = ?", input.ChangeSet)
	}

	if input.StatusReason != "" {
		update = update.Set("#StatusReason = ?", input.StatusReason)
	}

	if len(input.StackEvents) > 0 {
		update = update.Set("#StackEvents = ?", input.StackEvents)
	}

	if input.Status == StatusSuccess || input.Status == StatusFailed {
		update = update.Set("#FinishedAt = ?", now)
	}

	if err := update.RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to update deployment status: %w", err)
	}

	return nil
}

// Recent returns up to limit deployments of a stack, newest first.
// A limit of 0 returns all of them.
func (d *DAO) Recent(ctx context.Context, env, stack string, limit int) ([]Record, error) {
	var items []Record
	err := d.table.Query("#PK = ?", NewPK(env, stack).String()).
		FindAllWithContext(ctx, &items)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(item.SK.String(), skPrefix) {
			records = append(records, item)
		}
	}

	// KSUIDs sort by creation time
	sort.Slice(records, func(i, j int) bool {
		return records[i].SK > records[j].SK
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// Delete removes a deployment record
func (d *DAO) Delete(ctx context.Context, id ID) error {
	env, stack, deploymentID, err := ParseID(id)
	if err != nil {
		return err
	}

	err = d.table.Delete(NewPK(env, stack).String()).
		Range(NewSK(deploymentID).String()).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}

	return nil
}

func isNotFound(err error) bool {
	s := err.Error()
	return strings.Contains(s, "item not found") || strings.Contains(s, "ItemNotFound")
}
