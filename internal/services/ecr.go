package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/rs/zerolog"
	apperrors "github.com/savaki/scheduled-tasks/internal/errors"
)

// ECRAPI is the subset of the ECR client used by ImageService.
type ECRAPI interface {
	DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
}

type ImageService struct {
	client ECRAPI
}

func NewImageService(client ECRAPI) *ImageService {
	return &ImageService{
		client: client,
	}
}

// RepositoryInfo identifies an ECR repository from its image URI.
type RepositoryInfo struct {
	RegistryID string
	Region     string
	Name       string
	URI        string
}

var reRepositoryURI = regexp.MustCompile(`^(\d{12})\.dkr\.ecr\.([a-z0-9-]+)\.amazonaws\.com(?:\.cn)?/([a-z0-9._/-]+)$`)

// ParseRepositoryURI parses 123456789012.dkr.ecr.us-east-1.amazonaws.com/name.
// ok is false for registries other than ECR.
func ParseRepositoryURI(uri string) (info RepositoryInfo, ok bool) {
	m := reRepositoryURI.FindStringSubmatch(uri)
	if m == nil {
		return RepositoryInfo{}, false
	}
	return RepositoryInfo{
		RegistryID: m[1],
		Region:     m[2],
		Name:       m[3],
		URI:        uri,
	}, true
}

// VerifyImage returns the digest of repositoryURI:tag. Images hosted outside
// ECR are not checked and return an empty digest.
func (s *ImageService) VerifyImage(ctx context.Context, repositoryURI, tag string) (string, error) {
	logger := zerolog.Ctx(ctx)

	repo, ok := ParseRepositoryURI(repositoryURI)
	if !ok {
		logger.Warn().
			Str("repository", repositoryURI).
			Msg("Skipping image verification for non-ECR repository")
		return "", nil
	}

	output, err := s.client.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RegistryId:     aws.String(repo.RegistryID),
		RepositoryName: aws.String(repo.Name),
		ImageIds: []types.ImageIdentifier{
			{ImageTag: aws.String(tag)},
		},
	})
	if err != nil {
		var notFound *types.ImageNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s:%s", apperrors.ErrImageNotFound, repositoryURI, tag)
		}
		return "", fmt.Errorf("failed to describe image %s:%s: %w", repositoryURI, tag, err)
	}

	if len(output.ImageDetails) == 0 {
		return "", fmt.Errorf("%w: %s:%s", apperrors.ErrImageNotFound, repositoryURI, tag)
	}

	digest := aws.ToString(output.ImageDetails[0].ImageDigest)
	logger.Info().
		Str("repository", repo.Name).
		Str("tag", tag).
		Str("digest", digest).
		Msg("Verified image")

	return digest, nil
}
