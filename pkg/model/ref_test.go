package model_test

import (
	"encoding/json"
	"testing"

	"github.com/jvs-project/continuity/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactSnapshot_MissingOmitsSize(t *testing.T) {
	data, err := json.Marshal(model.ArtifactSnapshot{Path: "notes/gone.md"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"notes/gone.md","exists":false}`, string(data))
}

func TestArtifactSnapshot_EmptyFileKeepsZeroSize(t *testing.T) {
	snap := model.ArtifactSnapshot{
		Path:   "empty.md",
		Exists: true,
		SHA256: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"size_bytes":0`)

	var back model.ArtifactSnapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, snap, back)
}

func TestArtifactSnapshot_InsideCommit(t *testing.T) {
	c := model.Commit{FileSnapshots: map[string]model.ArtifactSnapshot{
		"a.md": {Path: "a.md"},
	}}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "size_bytes")
}
