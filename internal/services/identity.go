package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSAPI is the subset of the STS client used by IdentityService.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Identity is the AWS principal running the deployment.
type Identity struct {
	Account string
	ARN     string
}

type IdentityService struct {
	client STSAPI

	once     sync.Once
	identity *Identity
	err      error
}

func NewIdentityService(client STSAPI) *IdentityService {
	return &IdentityService{
		client: client,
	}
}

// Caller returns the caller identity, fetched once.
func (s *IdentityService) Caller(ctx context.Context) (*Identity, error) {
	s.once.Do(func() {
		result, err := s.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			s.err = fmt.Errorf("failed to get caller identity: %w", err)
			return
		}
		if result.Account == nil {
			s.err = fmt.Errorf("account ID is nil")
			return
		}
		s.identity = &Identity{
			Account: *result.Account,
			ARN:     aws.ToString(result.Arn),
		}
	})
	return s.identity, s.err
}
