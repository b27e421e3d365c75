package thumbs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rescale/rescale-gallery/internal/config"
	"github.com/rescale/rescale-gallery/internal/constants"
	"github.com/rescale/rescale-gallery/internal/http"
	"github.com/rescale/rescale-gallery/internal/models"
)

// s3API is the part of the S3 client the source needs.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Source resolves tiers to presigned S3 GET URLs.
type S3Source struct {
	client  s3API
	presign func(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
	bucket  string
	prefix  string
	tiers   []string
	verify  bool
	expiry  time.Duration
	retry   http.Config
}

// NewS3Source creates an S3 source from the [thumbnails] config. Static
// keys are used when configured; otherwise the default AWS credential
// chain applies. A custom endpoint switches to path-style addressing for
// S3-compatible stores.
func NewS3Source(ctx context.Context, cfg *config.Config) (*S3Source, error) {
	th := cfg.Thumbnails
	if th.Bucket == "" {
		return nil, config.ErrMissingBucket
	}

	httpClient, err := http.NewImageClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if th.Region != "" {
		opts = append(opts, awsconfig.WithRegion(th.Region))
	}
	if th.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(th.AccessKeyID, th.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if th.Endpoint != "" {
			o.BaseEndpoint = aws.String(th.Endpoint)
			o.UsePathStyle = true
		}
	})
	presignClient := s3.NewPresignClient(client)

	return &S3Source{
		client: client,
		presign: func(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
			req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(expiry))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		},
		bucket: th.Bucket,
		prefix: th.Prefix,
		tiers:  cfg.Viewport.Tiers,
		verify: th.Verify,
		expiry: constants.PresignExpiry,
		retry:  http.DefaultConfig(),
	}, nil
}

// FetchImage returns a presigned URL for one tier of ref.
func (s *S3Source) FetchImage(ctx context.Context, ref models.RecordRef, tier int) (string, error) {
	key, err := tierKey(s.prefix, s.tiers, tier, ref.ID)
	if err != nil {
		return "", err
	}

	if s.verify {
		err := http.ExecuteWithRetry(ctx, s.retry, func() error {
			_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			return err
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				return "", fmt.Errorf("%w: s3://%s/%s", ErrThumbnailMissing, s.bucket, key)
			}
			return "", fmt.Errorf("failed to check s3://%s/%s: %w", s.bucket, key, err)
		}
	}

	url, err := s.presign(ctx, s.bucket, key, s.expiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign s3://%s/%s: %w", s.bucket, key, err)
	}
	return url, nil
}
