package enrichment

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"leadintel_backend/platform/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive keeps raw provider responses for audit.
type Archive interface {
	// Store writes the payload and returns its object key.
	Store(ctx context.Context, tenantID, leadID uuid.UUID, provider string, at time.Time, raw []byte) (string, error)
}

// MinIOArchive stores payloads in an S3-compatible bucket under
// {tenant}/{lead}/{provider}/{timestamp}.json.
type MinIOArchive struct {
	client *minio.Client
	bucket string
}

// NewMinIOArchive connects to MinIO and makes sure the bucket exists.
func NewMinIOArchive(ctx context.Context, cfg config.StorageConfig) (*MinIOArchive, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	a := &MinIOArchive{client: client, bucket: cfg.GetMinioBucketEnrichmentPayloads()}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *MinIOArchive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

func (a *MinIOArchive) Store(ctx context.Context, tenantID, leadID uuid.UUID, provider string, at time.Time, raw []byte) (string, error) {
	key := payloadKey(tenantID, leadID, provider, at)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload payload %s: %w", key, err)
	}
	return key, nil
}

func payloadKey(tenantID, leadID uuid.UUID, provider string, at time.Time) string {
	return path.Join(tenantID.String(), leadID.String(), provider, at.UTC().Format("20060102T150405.000000000Z")+".json")
}
