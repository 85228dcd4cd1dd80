package server_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	server "github.com/agentvault/agentvault-go/server"
	types "github.com/agentvault/agentvault-go/types"
)

func TestArtifactOffloader_OffloadsOversizedContent(t *testing.T) {
	dir := t.TempDir()
	storage, err := server.NewFilesystemStorage(dir, "https://files.test")
	require.NoError(t, err)

	offloader := server.NewArtifactOffloader(storage, 8, nil)

	big := strings.Repeat("x", 64)
	artifact, err := offloader.Offload(context.Background(), "T1", types.Artifact{
		ID:      "a1",
		Type:    types.ArtifactTypeFile,
		Content: &big,
	})
	require.NoError(t, err)

	assert.Nil(t, artifact.Content)
	require.NotNil(t, artifact.URL)
	assert.Equal(t, "https://files.test/T1/a1", *artifact.URL)

	data, err := os.ReadFile(filepath.Join(dir, "T1", "a1"))
	require.NoError(t, err)
	assert.Equal(t, big, string(data))
}

func TestArtifactOffloader_KeepsSmallContentInline(t *testing.T) {
	dir := t.TempDir()
	storage, err := server.NewFilesystemStorage(dir, "")
	require.NoError(t, err)

	offloader := server.NewArtifactOffloader(storage, 1024, nil)

	small := "tiny"
	artifact, err := offloader.Offload(context.Background(), "T1", types.Artifact{
		ID:      "a1",
		Type:    types.ArtifactTypeLog,
		Content: &small,
	})
	require.NoError(t, err)

	require.NotNil(t, artifact.Content)
	assert.Equal(t, "tiny", *artifact.Content)
	assert.Nil(t, artifact.URL)
}

func TestTaskStore_OffloadsArtifactsOnNotify(t *testing.T) {
	dir := t.TempDir()
	storage, err := server.NewFilesystemStorage(dir, "https://files.test")
	require.NoError(t, err)

	store := newTestStore(t)
	store.SetArtifactOffloader(server.NewArtifactOffloader(storage, 4, nil))

	ctx := context.Background()
	_, err = store.Create(ctx, "T1", nil)
	require.NoError(t, err)
	_, err = store.UpdateState(ctx, "T1", types.TaskStateWorking, nil)
	require.NoError(t, err)

	big := strings.Repeat("y", 32)
	task, err := store.NotifyArtifact(ctx, "T1", types.Artifact{
		ID:      "report",
		Type:    types.ArtifactTypeFile,
		Content: &big,
	})
	require.NoError(t, err)

	require.Len(t, task.Artifacts, 1)
	assert.Nil(t, task.Artifacts[0].Content)
	require.NotNil(t, task.Artifacts[0].URL)
}
