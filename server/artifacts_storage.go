package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
	types "github.com/agentvault/agentvault-go/types"
)

// ArtifactStorage persists artifact payloads that are too large to inline.
type ArtifactStorage interface {
	// Put stores the payload under the given object name and returns a URL
	// the client can fetch it from
	Put(ctx context.Context, objectName string, data []byte, mediaType string) (string, error)
}

// FilesystemStorage stores artifact payloads as files under a base
// directory.
type FilesystemStorage struct {
	basePath string
	baseURL  string
}

var _ ArtifactStorage = (*FilesystemStorage)(nil)

// NewFilesystemStorage creates the base directory if needed. When baseURL is
// empty the returned URLs are file:// paths.
func NewFilesystemStorage(basePath, baseURL string) (*FilesystemStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FilesystemStorage{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *FilesystemStorage) Put(_ context.Context, objectName string, data []byte, _ string) (string, error) {
	path := filepath.Join(s.basePath, filepath.FromSlash(objectName))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	if s.baseURL != "" {
		return s.baseURL + "/" + objectName, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// ArtifactOffloader moves oversized inline artifact content into an
// ArtifactStorage backend, rewriting the artifact to reference it by URL.
type ArtifactOffloader struct {
	storage   ArtifactStorage
	threshold int64
	logger    *zap.Logger
}

// NewArtifactOffloader creates an offloader. A nil storage disables
// offloading; artifacts pass through unchanged.
func NewArtifactOffloader(storage ArtifactStorage, threshold int64, logger *zap.Logger) *ArtifactOffloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactOffloader{storage: storage, threshold: threshold, logger: logger}
}

// Offload rewrites the artifact to an external URL reference when its inline
// content exceeds the threshold. Small or already-external artifacts are
// returned unchanged.
func (o *ArtifactOffloader) Offload(ctx context.Context, taskID string, artifact types.Artifact) (types.Artifact, error) {
	if o == nil || o.storage == nil || artifact.Content == nil {
		return artifact, nil
	}
	if int64(len(*artifact.Content)) <= o.threshold {
		return artifact, nil
	}

	mediaType := "application/octet-stream"
	if artifact.MediaType != nil {
		mediaType = *artifact.MediaType
	}

	objectName := fmt.Sprintf("%s/%s", taskID, artifact.ID)
	url, err := o.storage.Put(ctx, objectName, []byte(*artifact.Content), mediaType)
	if err != nil {
		return artifact, fmt.Errorf("failed to offload artifact %s: %w", artifact.ID, err)
	}

	o.logger.Debug("artifact offloaded",
		zap.String("task_id", taskID),
		zap.String("artifact_id", artifact.ID),
		zap.Int("bytes", len(*artifact.Content)))

	artifact.Content = nil
	artifact.URL = &url
	return artifact, nil
}

// NewArtifactStorage builds an artifact backend from configuration. Provider
// none returns nil, which disables offloading.
func NewArtifactStorage(cfg config.ArtifactsConfig, logger *zap.Logger) (ArtifactStorage, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "filesystem":
		return NewFilesystemStorage(cfg.BasePath, cfg.BaseURL)
	case "minio":
		return NewMinIOStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown artifact storage provider %q", cfg.Provider)
	}
}
