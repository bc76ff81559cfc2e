// Package s3 checks that the configured bucket is reachable through the
// provider's S3-compatible endpoint.
package s3

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-token/pkg/simpletoken"
)

// ErrBucketNotFound indicates the endpoint does not know the bucket.
var ErrBucketNotFound = errors.New("bucket not found")

// ErrAccessDenied indicates the credentials may not access the bucket.
var ErrAccessDenied = errors.New("bucket access denied")

// Config options for the bucket prober
type Config struct {
	Region          string        // Region, default us-east-1
	Bucket          string        // Bucket name
	AccessKeyID     string        // Access key id
	SecretAccessKey string        // Secret key
	Endpoint        string        // S3-compatible endpoint, e.g. https://s3.cn-east-1.qiniucs.com
	UsePathStyle    bool          // Use path-style addressing
	Timeout         time.Duration // Per-probe timeout, default 5s
}

type headBucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Prober implements simpletoken.BucketProber with a HeadBucket request.
type Prober struct {
	client  headBucketAPI
	bucket  string
	timeout time.Duration
}

var _ simpletoken.BucketProber = (*Prober)(nil)

// New creates a prober for config.Bucket
func New(config Config) (*Prober, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	return newProber(s3.NewFromConfig(awsCfg, s3Options...), config.Bucket, config.Timeout), nil
}

func newProber(client headBucketAPI, bucket string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{client: client, bucket: bucket, timeout: timeout}
}

// ProbeBucket returns nil when the bucket exists and the credentials can reach it.
func (p *Prober) ProbeBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, p.bucket)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %s", ErrBucketNotFound, p.bucket)
		case "Forbidden", "AccessDenied":
			return fmt.Errorf("%w: %s", ErrAccessDenied, p.bucket)
		}
	}
	return fmt.Errorf("failed to probe bucket %s: %w", p.bucket, err)
}
