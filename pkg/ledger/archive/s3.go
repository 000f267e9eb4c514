package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

// S3Config holds configuration for S3Archiver.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string
}

// S3Archiver uploads segments to an S3 bucket.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver loads the default AWS credential chain for the region.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *S3Archiver) key(segment string) string {
	return a.prefix + filepath.Base(segment)
}

// Archive uploads the segment unless an object with the same key already exists.
func (a *S3Archiver) Archive(ctx context.Context, segment string) (string, error) {
	data, err := os.ReadFile(segment)
	if err != nil {
		return "", fmt.Errorf("archive read %s: %w", segment, err)
	}
	key := a.key(segment)
	location := fmt.Sprintf("s3://%s/%s", a.bucket, key)

	if _, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}); err == nil {
		return location, nil
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata:    map[string]string{"sha256": canonicalize.HashBytes(data)},
	})
	if err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}
	return location, nil
}
