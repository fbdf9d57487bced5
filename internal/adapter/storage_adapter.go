package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mbeoliero/amora/internal/config"
	"github.com/mbeoliero/amora/internal/remote"
)

var _ remote.Blob = (*StorageAdapter)(nil)

// ObjectPutter is the part of the S3 client the adapter uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client from static credentials. A custom
// endpoint switches to path style addressing for S3 compatible stores.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// StorageAdapter stores public files such as profile photos in one bucket
type StorageAdapter struct {
	client       ObjectPutter
	bucket       string
	region       string
	endpoint     string
	publicDomain string
}

// NewStorageAdapter creates a new StorageAdapter
func NewStorageAdapter(client ObjectPutter, cfg config.StorageConfig) *StorageAdapter {
	return &StorageAdapter{
		client:       client,
		bucket:       cfg.Bucket,
		region:       cfg.Region,
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		publicDomain: strings.TrimRight(cfg.PublicDomain, "/"),
	}
}

// Upload implements remote.Blob
func (s *StorageAdapter) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	if s.client == nil {
		return errors.New("s3 client is not initialized")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path.Clean(key)),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	return err
}

// PublicURL implements remote.Blob
func (s *StorageAdapter) PublicURL(key string) string {
	key = path.Clean(key)
	switch {
	case s.publicDomain != "":
		return fmt.Sprintf("%s/%s", s.publicDomain, key)
	case s.endpoint != "":
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	}
}
