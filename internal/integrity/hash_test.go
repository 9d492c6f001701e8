package integrity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/continuity/internal/integrity"
	"github.com/jvs-project/continuity/pkg/jsonutil"
	"github.com/jvs-project/continuity/pkg/model"
)

func sampleEvent() *model.Event {
	return &model.Event{
		Schema:    model.SchemaEvent,
		Seq:       2,
		EventID:   "20260101-000000-abcdef12",
		Timestamp: "2026-01-01T00:00:00Z",
		Kind:      "note",
		Status:    model.StatusInfo,
		Summary:   "ran tests",
		Source:    "manual",
		Paths:     []string{"a.go"},
		PrevHash:  "00ff",
	}
}

func TestEventHash_Deterministic(t *testing.T) {
	h1, err := integrity.EventHash(sampleEvent())
	require.NoError(t, err)
	h2, err := integrity.EventHash(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, string(h1), 64)
}

func TestEventHash_ExcludesHashField(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	b.Hash = "something"
	ha, _ := integrity.EventHash(a)
	hb, _ := integrity.EventHash(b)
	assert.Equal(t, ha, hb)
	assert.Equal(t, model.HashValue("something"), b.Hash, "input must not be mutated")
}

func TestEventHash_SensitiveToContent(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	b.Summary = "ran tests again"
	ha, _ := integrity.EventHash(a)
	hb, _ := integrity.EventHash(b)
	assert.NotEqual(t, ha, hb)
}

func TestRecordHash_MatchesEventHash(t *testing.T) {
	e := sampleEvent()
	want, err := integrity.EventHash(e)
	require.NoError(t, err)

	data, err := jsonutil.CanonicalMarshal(e)
	require.NoError(t, err)
	record, err := jsonutil.DecodeObject(data)
	require.NoError(t, err)
	record["hash"] = "stale"

	got, err := integrity.RecordHash(record)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSnapshotArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ACTIVE_TASK.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	snap, err := integrity.SnapshotArtifact(path, "ACTIVE_TASK.md")
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, int64(5), snap.SizeBytes)
	assert.Equal(t, integrity.Digest([]byte("hello")), snap.SHA256)

	missing, err := integrity.SnapshotArtifact(filepath.Join(dir, "nope.md"), "nope.md")
	require.NoError(t, err)
	assert.False(t, missing.Exists)
	assert.Empty(t, missing.SHA256)
	assert.Equal(t, "nope.md", missing.Path)
}
