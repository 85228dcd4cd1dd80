package server

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	credentials "github.com/minio/minio-go/v7/pkg/credentials"
	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
)

// MinIOStorage stores artifact payloads in an S3-compatible object store.
type MinIOStorage struct {
	client *minio.Client
	bucket string
	useSSL bool
	logger *zap.Logger
}

var _ ArtifactStorage = (*MinIOStorage)(nil)

// NewMinIOStorage connects to the configured endpoint and ensures the bucket
// exists.
func NewMinIOStorage(cfg config.ArtifactsConfig, logger *zap.Logger) (*MinIOStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio artifact storage requires an endpoint")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinIOStorage{
		client: client,
		bucket: cfg.Bucket,
		useSSL: cfg.UseSSL,
		logger: logger,
	}, nil
}

func (s *MinIOStorage) Put(ctx context.Context, objectName string, data []byte, mediaType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mediaType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact object %s: %w", objectName, err)
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, strings.TrimPrefix(objectName, "/"))

	s.logger.Debug("artifact uploaded",
		zap.String("bucket", s.bucket),
		zap.String("object", objectName))
	return url, nil
}
