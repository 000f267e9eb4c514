// Package archive ships rotated ledger segments to durable storage. Segments are
// copied, never moved: the local chain must stay complete for replay verification.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
)

// Type selects an archive backend.
type Type string

const (
	TypeNone Type = ""
	TypeFS   Type = "fs"
	TypeS3   Type = "s3"
	TypeGCS  Type = "gcs"
)

// Archiver stores one sealed segment and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, segment string) (string, error)
}

// Config holds the settings for every backend.
type Config struct {
	Type     Type
	Dir      string
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// New builds the configured archiver. TypeNone returns nil.
func New(ctx context.Context, cfg Config) (Archiver, error) {
	switch cfg.Type {
	case TypeNone:
		return nil, nil
	case TypeFS:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("archive dir is required for fs archives")
		}
		return NewFileArchiver(cfg.Dir), nil
	case TypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archive bucket is required for s3 archives")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Archiver(ctx, S3Config{Bucket: cfg.Bucket, Region: region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case TypeGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archive bucket is required for gcs archives")
		}
		return newGCSArchiver(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", cfg.Type)
	}
}

// FileArchiver copies segments into a local directory, typically a separate mount.
type FileArchiver struct {
	dir string
}

func NewFileArchiver(dir string) *FileArchiver {
	return &FileArchiver{dir: dir}
}

// Archive copies the segment and checks the copy digest before returning.
func (a *FileArchiver) Archive(ctx context.Context, segment string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.dir, 0o750); err != nil {
		return "", fmt.Errorf("archive mkdir: %w", err)
	}
	data, err := os.ReadFile(segment)
	if err != nil {
		return "", fmt.Errorf("archive read %s: %w", segment, err)
	}
	target := filepath.Join(a.dir, filepath.Base(segment))
	tmp := target + ".partial"
	if err := os.WriteFile(tmp, data, 0o440); err != nil {
		return "", fmt.Errorf("archive write: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", fmt.Errorf("archive rename: %w", err)
	}
	copied, err := digestFile(target)
	if err != nil {
		return "", err
	}
	if copied != canonicalize.HashBytes(data) {
		return "", fmt.Errorf("archive copy of %s does not match source digest", segment)
	}
	return target, nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := canonicalize.SHA256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
