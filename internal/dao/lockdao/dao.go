package lockdao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
)

const (
	lockSK   = "LOCK"
	lockTTL  = time.Hour // applies wait on CloudFormation, which can take a while
	idFormat = "{env}/{stack}:LOCK"
)

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

func (pk PK) String() string {
	return string(pk)
}

// ID identifies a lock, e.g. dev/scorer-scheduled-tasks:LOCK
type ID string

// NewID creates an ID from env and stack
func NewID(env, stack string) ID {
	return ID(fmt.Sprintf("%s:%s", NewPK(env, stack), lockSK))
}

// ParseID parses an ID into env and stack components
func ParseID(id ID) (env, stack string, err error) {
	pk, sk, ok := strings.Cut(string(id), ":")
	if !ok || sk != lockSK {
		return "", "", fmt.Errorf("invalid ID format: %s, expected %s", id, idFormat)
	}
	return ParsePK(PK(pk))
}

func (id ID) String() string {
	return string(id)
}

// Record represents a deploy lock on one stack
type Record struct {
	PK         PK     `ddb:"hash" dynamodbav:"pk"`  // {Env}/{Stack}
	SK         string `ddb:"range" dynamodbav:"sk"` // Always "LOCK"
	Owner      string `dynamodbav:"owner"`          // KSUID of the apply holding the lock
	ChangeSet  string `dynamodbav:"change_set"`     // change set being executed, if any
	Actor      string `dynamodbav:"actor"`          // caller identity, for humans reading the table
	AcquiredAt int64  `dynamodbav:"acquired_at"`    // Unix timestamp when lock was acquired
	TTL        int64  `dynamodbav:"ttl"`            // Unix timestamp for DynamoDB TTL expiry
}

// GetID returns the ID for this record
func (r *Record) GetID() ID {
	env, stack, _ := ParsePK(r.PK)
	return NewID(env, stack)
}

// Expired reports whether the lock outlived its TTL. DynamoDB deletes
// expired items lazily so readers must check.
func (r *Record) Expired(now time.Time) bool {
	return r.TTL > 0 && now.Unix() >= r.TTL
}

// AcquireInput contains fields for acquiring a deploy lock
type AcquireInput struct {
	Env       string
	Stack     string
	Owner     string
	ChangeSet string
	Actor     string
}

// ReleaseInput contains fields for releasing a deploy lock
type ReleaseInput struct {
	ID    ID
	Owner string // must match lock holder
}

// DAO provides data access operations for deploy locks
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

// Acquire attempts to acquire a deploy lock.
// Returns the lock record and true if acquired or already held by owner;
// returns the current holder and false if held by someone else.
func (d *DAO) Acquire(ctx context.Context, input AcquireInput) (*Record, bool, error) {
	id := NewID(input.Env, input.Stack)

	existing, err := d.Find(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check existing lock: %w", err)
	}

	if existing != nil {
		if existing.Owner == input.Owner {
			return existing, true, nil
		}
		return existing, false, nil
	}

	now := d.now()
	record := &Record{
		PK:         NewPK(input.Env, input.Stack),
		SK:         lockSK,
		Owner:      input.Owner,
		ChangeSet:  input.ChangeSet,
		Actor:      input.Actor,
		AcquiredAt: now.Unix(),
		TTL:        now.Add(lockTTL).Unix(),
	}

	if err := d.table.Put(record).RunWithContext(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to create lock: %w", err)
	}

	return record, true, nil
}

// Find retrieves a live lock record by ID
// Returns nil if not found or expired
func (d *DAO) Find(ctx context.Context, id ID) (*Record, error) {
	env, stack, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	var record Record
	err = d.table.Get(NewPK(env, stack).String()).
		Range(lockSK).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return nil, nil
	}
	if record.Expired(d.now()) {
		return nil, nil
	}

	return &record, nil
}

// Release releases a deploy lock
// Only succeeds if the lock is held by the specified owner
func (d *DAO) Release(ctx context.Context, input ReleaseInput) error {
	existing, err := d.Find(ctx, input.ID)
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}

	if existing == nil {
		// already released or expired
		return nil
	}

	if existing.Owner != input.Owner {
		return fmt.Errorf("lock not held by %s (held by %s)", input.Owner, existing.Owner)
	}

	return d.Delete(ctx, input.ID)
}

// Delete removes a lock record regardless of who holds it
func (d *DAO) Delete(ctx context.Context, id ID) error {
	env, stack, err := ParseID(id)
	if err != nil {
		return err
	}

	err = d.table.Delete(NewPK(env, stack).String()).
		Range(lockSK).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}

	return nil
}

func isNotFound(err error) bool {
	s := err.Error()
	return strings.Contains(s, "item not found") || strings.Contains(s, "ItemNotFound")
}
