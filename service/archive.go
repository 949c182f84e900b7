package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MwailaCoding/prowrite-delivery/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArchiveService keeps a copy of delivered artifacts in object storage
// so a re-download can be served after the gateway URL expires.
type ArchiveService struct {
	client *minio.Client
	bucket string
	config *config.ArchiveConfig
}

func NewArchiveService(cfg *config.ArchiveConfig) (*ArchiveService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &ArchiveService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *ArchiveService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// StoreArtifact streams an artifact into the archive under the
// submission reference.
func (s *ArchiveService) StoreArtifact(ctx context.Context, reference string, reader io.Reader) error {
	// The stream length is unknown; a bounded part size keeps the
	// client from allocating its default multi-hundred-MB part buffer.
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(reference), reader, -1, minio.PutObjectOptions{
		ContentType: "application/pdf",
		PartSize:    16 * 1024 * 1024,
	})
	if err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}

	return nil
}

// PresignedURL generates a time-limited URL for an archived artifact
func (s *ArchiveService) PresignedURL(ctx context.Context, reference string) (string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour
	url, err := s.client.PresignedGetObject(ctx, s.bucket, s.objectName(reference), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// DeleteArtifact removes an archived artifact
func (s *ArchiveService) DeleteArtifact(ctx context.Context, reference string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectName(reference), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}

	return nil
}

func (s *ArchiveService) objectName(reference string) string {
	return fmt.Sprintf("artifacts/%s.pdf", reference)
}
