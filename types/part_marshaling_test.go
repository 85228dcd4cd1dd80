package types_test

import (
	"encoding/json"
	"testing"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	types "github.com/agentvault/agentvault-go/types"
)

func TestPart_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, p types.Part)
	}{
		{
			name:  "text part",
			input: `{"type":"text","content":"hi"}`,
			check: func(t *testing.T, p types.Part) {
				assert.Equal(t, types.PartTypeText, p.Type)
				assert.Equal(t, "hi", p.Content)
			},
		},
		{
			name:  "file part with media type",
			input: `{"type":"file","url":"https://files.test/report.pdf","mediaType":"application/pdf","filename":"report.pdf"}`,
			check: func(t *testing.T, p types.Part) {
				assert.Equal(t, types.PartTypeFile, p.Type)
				assert.Equal(t, "https://files.test/report.pdf", p.URL)
				require.NotNil(t, p.MediaType)
				assert.Equal(t, "application/pdf", *p.MediaType)
			},
		},
		{
			name:  "data part defaults media type",
			input: `{"type":"data","data":{"answer":42}}`,
			check: func(t *testing.T, p types.Part) {
				assert.Equal(t, types.PartTypeData, p.Type)
				require.NotNil(t, p.MediaType)
				assert.Equal(t, "application/json", *p.MediaType)
				assert.Equal(t, float64(42), p.Data["answer"])
			},
		},
		{
			name:    "text part missing content",
			input:   `{"type":"text"}`,
			wantErr: true,
		},
		{
			name:    "file part missing url",
			input:   `{"type":"file","filename":"x"}`,
			wantErr: true,
		},
		{
			name:    "data part missing data",
			input:   `{"type":"data"}`,
			wantErr: true,
		},
		{
			name:    "unknown part type",
			input:   `{"type":"audio","content":"x"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p types.Part
			err := json.Unmarshal([]byte(tt.input), &p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestPart_MarshalRoundTrip(t *testing.T) {
	parts := []types.Part{
		types.NewTextPart("hello"),
		types.NewDataPart(types.Struct{"k": "v"}),
	}
	mediaType := "image/png"
	parts = append(parts, types.NewFilePart("https://files.test/a.png", &mediaType, nil))

	data, err := json.Marshal(parts)
	require.NoError(t, err)

	decoded, err := types.UnmarshalParts(data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, parts[0].Content, decoded[0].Content)
	assert.Equal(t, parts[1].Data, decoded[1].Data)
	assert.Equal(t, parts[2].URL, decoded[2].URL)
}

func TestMessage_WithMetadata(t *testing.T) {
	original := types.Message{
		Role:     types.RoleUser,
		Parts:    []types.Part{types.NewTextPart("hi")},
		Metadata: types.Struct{"existing": "value"},
	}

	derived := original.WithMetadata(types.MetadataKeyMCPContext, types.Struct{"session": "s1"})

	assert.Equal(t, "value", derived.Metadata["existing"])
	assert.Contains(t, derived.Metadata, types.MetadataKeyMCPContext)

	_, mutated := original.Metadata[types.MetadataKeyMCPContext]
	assert.False(t, mutated, "original message metadata must not change")
}

func TestValidateArtifact(t *testing.T) {
	content := "log line"
	url := "https://files.test/out.bin"

	tests := []struct {
		name     string
		artifact types.Artifact
		wantErr  bool
	}{
		{
			name:     "inline content",
			artifact: types.Artifact{ID: "a1", Type: types.ArtifactTypeLog, Content: &content},
		},
		{
			name:     "external url",
			artifact: types.Artifact{ID: "a2", Type: types.ArtifactTypeFile, URL: &url},
		},
		{
			name:     "both set",
			artifact: types.Artifact{ID: "a3", Type: types.ArtifactTypeFile, Content: &content, URL: &url},
			wantErr:  true,
		},
		{
			name:     "neither set",
			artifact: types.Artifact{ID: "a4", Type: types.ArtifactTypeFile},
			wantErr:  true,
		},
		{
			name:     "missing id",
			artifact: types.Artifact{Type: types.ArtifactTypeFile, Content: &content},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := types.ValidateArtifact(tt.artifact)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	data := []byte(`{"taskId":"T1","timestamp":"2025-01-01T00:00:00Z","state":"WORKING"}`)
	ev, err := types.DecodeEvent(types.EventTypeTaskStatus, data)
	require.NoError(t, err)

	status, ok := ev.(types.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, "T1", status.TaskID)
	assert.Equal(t, types.TaskStateWorking, status.State)

	_, err = types.DecodeEvent("bogus", data)
	assert.Error(t, err)
}
