package repo_test

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/config"
)

func realDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestDiscover_FindsGitRoot(t *testing.T) {
	dir := realDir(t)
	root := filepath.Join(dir, "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	r, err := repo.Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, root, r.Root)
	assert.Equal(t, root, r.IdentityRoot)
	assert.Regexp(t, regexp.MustCompile(`^proj--[0-9a-f]{10}$`), r.ID)
}

func TestDiscover_NoGitFallsBackToStart(t *testing.T) {
	dir := realDir(t)
	r, err := repo.Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, r.Root)
}

func TestDiscover_LinkedWorktreeSharesIdentity(t *testing.T) {
	dir := realDir(t)
	main := filepath.Join(dir, "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(main, ".git", "worktrees", "wt1"), 0755))

	wt := filepath.Join(dir, "proj-wt1")
	require.NoError(t, os.MkdirAll(wt, 0755))
	gitdir := filepath.Join(main, ".git", "worktrees", "wt1")
	require.NoError(t, os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: "+gitdir+"\n"), 0644))

	mainRepo, err := repo.Discover(main)
	require.NoError(t, err)
	wtRepo, err := repo.Discover(wt)
	require.NoError(t, err)

	assert.Equal(t, wt, wtRepo.Root)
	assert.Equal(t, main, wtRepo.IdentityRoot)
	assert.Equal(t, mainRepo.ID, wtRepo.ID)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "my-project", repo.Slug("  my project!! "))
	assert.Equal(t, "a.b_c-d", repo.Slug("a.b_c-d"))
	assert.Equal(t, "entry", repo.Slug("%%%"))
}

func TestID_Stable(t *testing.T) {
	assert.Equal(t, repo.ID("/work/proj"), repo.ID("/work/proj"))
	assert.NotEqual(t, repo.ID("/work/proj"), repo.ID("/other/proj"))
}

func TestMemoryRoot(t *testing.T) {
	r := &repo.Repo{Root: "/work/proj", ID: "proj--0123456789"}

	explicit := filepath.Join(t.TempDir(), "mem")
	got, err := repo.MemoryRoot(explicit, r)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	home := t.TempDir()
	t.Setenv(repo.HomeEnv, home)
	got, err = repo.MemoryRoot("", r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "memory", "proj--0123456789"), got)

	t.Setenv(repo.HomeEnv, "")
	t.Setenv("HOME", home)
	got, err = repo.MemoryRoot("", r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".continuity", "memory", "proj--0123456789"), got)
}

func TestLayout(t *testing.T) {
	mem := t.TempDir()
	r := &repo.Repo{Root: "/work/proj", ID: "proj--0123456789"}
	l := repo.NewLayout(r, mem, config.Default())

	assert.Equal(t, filepath.Join(mem, "events", "events.jsonl"), l.LedgerPath)
	assert.Equal(t, l.LedgerPath+".lock", l.LockPath)
	assert.Equal(t, filepath.Join(mem, "context", "refs.json"), l.RefsPath)
	assert.Equal(t, filepath.Join(mem, "rehydrated", "traces", "latest-trace.json"), l.LatestTracePath)
	assert.Equal(t, filepath.Join(mem, "rehydrated", "evals", "latest-eval.json"), l.LatestEvalPath)
	assert.Equal(t, filepath.Join(mem, "rehydrated", "benchmarks"), l.BenchmarksDir)
	assert.Equal(t, filepath.Join(mem, "snapshots"), l.SnapshotsDir)
	assert.Equal(t, filepath.Join(mem, "automation", "cycle-state.json"), l.CycleStatePath)

	require.NoError(t, l.EnsureDirs())
	assert.DirExists(t, l.CommitsDir)
	assert.DirExists(t, l.TracesDir)
	assert.DirExists(t, filepath.Dir(l.LedgerPath))
}

func TestLayout_Bootstrap(t *testing.T) {
	mem := t.TempDir()
	l := repo.NewLayout(&repo.Repo{Root: mem, ID: "x--0"}, mem, config.Default())
	require.NoError(t, l.Bootstrap())
	assert.FileExists(t, l.LedgerPath)

	require.NoError(t, os.WriteFile(l.LedgerPath, []byte("{}\n"), 0644))
	require.NoError(t, l.Bootstrap())
	data, err := os.ReadFile(l.LedgerPath)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data), "existing ledger is left alone")
}
