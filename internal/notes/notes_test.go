package notes_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/continuity/internal/notes"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/config"
	"github.com/jvs-project/continuity/pkg/errclass"
)

const activeTask = "# Active Task\n\n" +
	"Capsule: `capsules/auth.md`\n\n" +
	"## Objective\n\n" +
	"Ship token refresh.\n" +
	"### detail heading\n" +
	"\n" +
	"Keep sessions alive.\n\n" +
	"## Acceptance Criteria\n\n" +
	"- refresh works\n"

func TestSection(t *testing.T) {
	assert.Equal(t, "Ship token refresh.\n### detail heading\n\nKeep sessions alive.", notes.Section(activeTask, "Objective"))
	assert.Equal(t, "- refresh works", notes.Section(activeTask, "Acceptance Criteria"))
	assert.Empty(t, notes.Section(activeTask, "Missing"))
}

func TestCompact(t *testing.T) {
	body := notes.Section(activeTask, "Objective")
	assert.Equal(t, "Ship token refresh.\nKeep sessions alive.", notes.Compact(body, 10, 1600))
	assert.Equal(t, "Ship token refresh.", notes.Compact(body, 1, 1600))
	assert.Equal(t, "Ship token refresh.", notes.Compact(body, 10, 25))
	assert.Empty(t, notes.Compact(body, 10, 5))
}

func TestDecisionTitles(t *testing.T) {
	md := "# Decisions\n\n### 2026-01-01 Use flock\nbody\n### 2026-01-02 Use yaml\n### 2026-01-03 Prefix packing\n"
	assert.Equal(t, []string{"### 2026-01-02 Use yaml", "### 2026-01-03 Prefix packing"}, notes.DecisionTitles(md, 2))
	assert.Len(t, notes.DecisionTitles(md, 10), 3)
	assert.Empty(t, notes.DecisionTitles(md, 0))
}

func TestCapsulePath(t *testing.T) {
	assert.Equal(t, "capsules/auth.md", notes.CapsulePath(activeTask))
	assert.Equal(t, "plain/path.md", notes.CapsulePath("- Capsule: plain/path.md"))
	assert.Empty(t, notes.CapsulePath("no pointer here"))
}

func newLayout(t *testing.T) repo.Layout {
	mem := t.TempDir()
	return repo.NewLayout(&repo.Repo{Root: mem, ID: "proj--0123456789"}, mem, config.Default())
}

func TestLoad(t *testing.T) {
	layout := newLayout(t)
	require.NoError(t, os.WriteFile(layout.ActiveTaskPath, []byte(activeTask), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(layout.MemoryRoot, "capsules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(layout.MemoryRoot, "capsules", "auth.md"), []byte("capsule body\n"), 0644))

	n, err := notes.Load(layout)
	require.NoError(t, err)
	assert.Equal(t, "capsules/auth.md", n.CapsuleRel)
	assert.Equal(t, "capsule body\n", n.Capsule)
	assert.True(t, n.CapsuleExists)
	assert.Empty(t, n.Decisions)
	assert.Empty(t, n.ProjectMemory)
}

func TestLoad_CapsuleEscape(t *testing.T) {
	layout := newLayout(t)
	content := strings.Replace(activeTask, "capsules/auth.md", "../../etc/passwd", 1)
	require.NoError(t, os.WriteFile(layout.ActiveTaskPath, []byte(content), 0644))

	n, err := notes.Load(layout)
	require.NoError(t, err)
	assert.ErrorIs(t, n.CapsuleErr, errclass.ErrPathEscape)
	assert.Equal(t, "../../etc/passwd", n.CapsuleRel)
	assert.Empty(t, n.Capsule)
	assert.False(t, n.CapsuleExists)
	assert.Contains(t, n.ActiveTask, "Ship token refresh.")
}

func TestLoad_CapsuleAbsolutePath(t *testing.T) {
	layout := newLayout(t)
	capsule := filepath.Join(t.TempDir(), "shared-capsule.md")
	require.NoError(t, os.WriteFile(capsule, []byte("shared body\n"), 0644))
	content := strings.Replace(activeTask, "capsules/auth.md", capsule, 1)
	require.NoError(t, os.WriteFile(layout.ActiveTaskPath, []byte(content), 0644))

	n, err := notes.Load(layout)
	require.NoError(t, err)
	assert.NoError(t, n.CapsuleErr)
	assert.True(t, n.CapsuleExists)
	assert.Equal(t, "shared body\n", n.Capsule)
}

func TestLoad_CapsuleMissing(t *testing.T) {
	layout := newLayout(t)
	require.NoError(t, os.WriteFile(layout.ActiveTaskPath, []byte(activeTask), 0644))

	n, err := notes.Load(layout)
	require.NoError(t, err)
	assert.NoError(t, n.CapsuleErr)
	assert.False(t, n.CapsuleExists)
	assert.Empty(t, n.Capsule)
}
