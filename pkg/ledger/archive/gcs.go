//go:build gcp

package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

// GCSArchiver uploads segments to a Google Cloud Storage bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSArchiver uses application default credentials.
func NewGCSArchiver(ctx context.Context, bucket, prefix string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket, prefix: prefix}, nil
}

func newGCSArchiver(ctx context.Context, cfg Config) (Archiver, error) {
	return NewGCSArchiver(ctx, cfg.Bucket, cfg.Prefix)
}

// Archive uploads the segment unless the object already exists.
func (a *GCSArchiver) Archive(ctx context.Context, segment string) (string, error) {
	data, err := os.ReadFile(segment)
	if err != nil {
		return "", fmt.Errorf("archive read %s: %w", segment, err)
	}
	name := a.prefix + filepath.Base(segment)
	location := fmt.Sprintf("gs://%s/%s", a.bucket, name)

	obj := a.client.Bucket(a.bucket).Object(name)
	if _, err := obj.Attrs(ctx); err == nil {
		return location, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.Metadata = map[string]string{"sha256": canonicalize.HashBytes(data)}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed: %w", err)
	}
	return location, nil
}
