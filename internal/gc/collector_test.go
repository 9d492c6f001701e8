package gc_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/continuity/internal/gc"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/config"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
)

var now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func setupLayout(t *testing.T) repo.Layout {
	t.Helper()
	dir := t.TempDir()
	layout := repo.NewLayout(&repo.Repo{Root: dir, ID: "proj--0123456789"}, filepath.Join(dir, "memory"), config.Default())
	require.NoError(t, os.MkdirAll(layout.TracesDir, 0755))
	return layout
}

// touch writes a file and backdates it by age.
func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func newCollector(layout repo.Layout, reg *metrics.Registry) *gc.Collector {
	return gc.NewCollector(layout, gc.Options{
		Logger:  logging.Discard(),
		Metrics: reg,
		Now:     func() time.Time { return now },
	})
}

func paths(cands []gc.Candidate) []string {
	var out []string
	for _, c := range cands {
		out = append(out, filepath.Base(c.Path))
	}
	return out
}

func TestCollector_Plan_Empty(t *testing.T) {
	layout := setupLayout(t)

	plan, err := newCollector(layout, nil).Plan(gc.Policy{KeepDocuments: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.PlanID)
	assert.Empty(t, plan.Candidates)
	assert.Zero(t, plan.Bytes)
}

func TestCollector_Plan_KeepsNewestDocuments(t *testing.T) {
	layout := setupLayout(t)
	touch(t, filepath.Join(layout.RehydratedDir, "2026-10-01_100000--rehydrated.md"), 72*time.Hour)
	touch(t, filepath.Join(layout.RehydratedDir, "2026-10-02_100000--rehydrated.md"), 48*time.Hour)
	touch(t, filepath.Join(layout.RehydratedDir, "2026-10-03_100000--rehydrated.md"), 30*time.Hour)
	touch(t, layout.LatestPath, 100*time.Hour)
	touch(t, filepath.Join(layout.RehydratedDir, "notes.md"), 100*time.Hour)

	plan, err := newCollector(layout, nil).Plan(gc.Policy{KeepDocuments: 1, MinAge: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2026-10-02_100000--rehydrated.md",
		"2026-10-01_100000--rehydrated.md",
	}, paths(plan.Candidates))
	assert.Equal(t, 1, plan.Kept)
	assert.Equal(t, int64(8), plan.Bytes)
}

func TestCollector_Plan_MinAgeProtects(t *testing.T) {
	layout := setupLayout(t)
	touch(t, filepath.Join(layout.TracesDir, "2026-10-17_100000--trace.json"), 2*time.Hour)
	touch(t, filepath.Join(layout.TracesDir, "2026-10-17_110000--trace.json"), time.Hour)
	touch(t, filepath.Join(layout.TracesDir, "2026-10-10_110000--trace.json"), 7*24*time.Hour)
	touch(t, layout.LatestTracePath, 7*24*time.Hour)

	plan, err := newCollector(layout, nil).Plan(gc.Policy{KeepDocuments: 0, MinAge: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-10_110000--trace.json"}, paths(plan.Candidates))
	assert.Equal(t, gc.KindTrace, plan.Candidates[0].Kind)
}

func TestCollector_Plan_Backups(t *testing.T) {
	layout := setupLayout(t)
	ledgerName := filepath.Base(layout.LedgerPath)
	dir := filepath.Dir(layout.LedgerPath)
	touch(t, layout.LedgerPath, 100*time.Hour)
	touch(t, filepath.Join(dir, ledgerName+".bak.20261001T000000Z"), 100*time.Hour)
	touch(t, filepath.Join(dir, ledgerName+".bak.20261002T000000Z"), 90*time.Hour)
	touch(t, layout.LockPath, 100*time.Hour)

	plan, err := newCollector(layout, nil).Plan(gc.Policy{KeepDocuments: 5, KeepBackups: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{ledgerName + ".bak.20261001T000000Z"}, paths(plan.Candidates))
	assert.Equal(t, gc.KindBackup, plan.Candidates[0].Kind)
}

func TestCollector_Plan_Reports(t *testing.T) {
	layout := setupLayout(t)
	require.NoError(t, os.MkdirAll(layout.EvalsDir, 0755))
	require.NoError(t, os.MkdirAll(layout.BenchmarksDir, 0755))
	require.NoError(t, os.MkdirAll(layout.SnapshotsDir, 0755))
	touch(t, filepath.Join(layout.EvalsDir, "2026-10-01_100000--eval.json"), 72*time.Hour)
	touch(t, filepath.Join(layout.EvalsDir, "2026-10-02_100000--eval.json"), 48*time.Hour)
	touch(t, layout.LatestEvalPath, 100*time.Hour)
	touch(t, filepath.Join(layout.BenchmarksDir, "2026-10-01_100000--benchmark.md"), 72*time.Hour)
	touch(t, filepath.Join(layout.BenchmarksDir, "2026-10-02_100000--benchmark.md"), 48*time.Hour)
	touch(t, filepath.Join(layout.BenchmarksDir, "latest.md"), 100*time.Hour)
	touch(t, filepath.Join(layout.SnapshotsDir, "2026-10-01_100000.md"), 100*time.Hour)

	plan, err := newCollector(layout, nil).Plan(gc.Policy{KeepDocuments: 1, MinAge: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2026-10-01_100000--eval.json",
		"2026-10-01_100000--benchmark.md",
	}, paths(plan.Candidates))
	assert.Equal(t, gc.KindEval, plan.Candidates[0].Kind)
	assert.Equal(t, gc.KindBenchmark, plan.Candidates[1].Kind)
}

func TestCollector_Run(t *testing.T) {
	layout := setupLayout(t)
	old := filepath.Join(layout.RehydratedDir, "2026-10-01_100000--rehydrated.md")
	kept := filepath.Join(layout.RehydratedDir, "2026-10-02_100000--rehydrated.md")
	oldTrace := filepath.Join(layout.TracesDir, "2026-10-01_100000--trace.json")
	keptTrace := filepath.Join(layout.TracesDir, "2026-10-02_100000--trace.json")
	touch(t, old, 72*time.Hour)
	touch(t, kept, 48*time.Hour)
	touch(t, oldTrace, 72*time.Hour)
	touch(t, keptTrace, 48*time.Hour)

	reg := metrics.NewRegistry()
	c := newCollector(layout, reg)
	plan, err := c.Plan(gc.Policy{KeepDocuments: 1})
	require.NoError(t, err)
	require.Len(t, plan.Candidates, 2)

	result, err := c.Run(plan)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanID, result.PlanID)
	assert.ElementsMatch(t, []string{old, oldTrace}, result.Deleted)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, int64(8), result.Bytes)
	assert.NoFileExists(t, old)
	assert.NoFileExists(t, oldTrace)
	assert.FileExists(t, kept)
	assert.FileExists(t, keptTrace)

	count, err := testutil.GatherAndCount(reg.Gatherer(), "continuity_gc_files_deleted_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCollector_Run_SkipsChangedFiles(t *testing.T) {
	layout := setupLayout(t)
	gone := filepath.Join(layout.RehydratedDir, "2026-10-01_100000--rehydrated.md")
	rewritten := filepath.Join(layout.RehydratedDir, "2026-10-02_100000--rehydrated.md")
	touch(t, gone, 72*time.Hour)
	touch(t, rewritten, 48*time.Hour)

	c := newCollector(layout, nil)
	plan, err := c.Plan(gc.Policy{KeepDocuments: 0})
	require.NoError(t, err)
	require.Len(t, plan.Candidates, 2)

	require.NoError(t, os.Remove(gone))
	touch(t, rewritten, 0)

	result, err := c.Run(plan)
	require.NoError(t, err)
	assert.Empty(t, result.Deleted)
	assert.ElementsMatch(t, []string{gone, rewritten}, result.Skipped)
	assert.FileExists(t, rewritten)
}

func TestCollector_Run_ReportsProgress(t *testing.T) {
	layout := setupLayout(t)
	touch(t, filepath.Join(layout.RehydratedDir, "2026-10-01_100000--rehydrated.md"), 72*time.Hour)
	touch(t, filepath.Join(layout.RehydratedDir, "2026-10-02_100000--rehydrated.md"), 48*time.Hour)

	var seen []string
	c := gc.NewCollector(layout, gc.Options{
		Logger: logging.Discard(),
		Now:    func() time.Time { return now },
		Progress: func(op string, current, total int, message string) {
			assert.Equal(t, 2, total)
			seen = append(seen, message)
		},
	})
	plan, err := c.Plan(gc.Policy{})
	require.NoError(t, err)
	_, err = c.Run(plan)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2026-10-02_100000--rehydrated.md",
		"2026-10-01_100000--rehydrated.md",
	}, seen)
}
