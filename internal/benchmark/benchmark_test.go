package benchmark_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/continuity/internal/benchmark"
	"github.com/jvs-project/continuity/internal/compile"
	"github.com/jvs-project/continuity/internal/ledger"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/config"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/model"
)

const activeTask = "# Active Task\n\n" +
	"## Objective\n\nHarden the auth token refresh path.\n\n" +
	"## Acceptance Criteria\n\n- [ ] refresh survives restarts\n- [x] no duplicate sessions\n\n" +
	"## Constraints / Non-Goals\n\n- no schema changes\n\n" +
	"## Current Status\n\nRefresh loop implemented.\n\n" +
	"## Key Paths\n\n- `internal/auth/refresh.go`\n- internal/auth/store.go\n"

var fixedNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

type fixture struct {
	layout repo.Layout
	ledger *ledger.Ledger
	runner *benchmark.Runner
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mem := t.TempDir()
	layout := repo.NewLayout(&repo.Repo{Root: "/src/proj", ID: "proj--0123456789"}, mem, config.Default())
	require.NoError(t, layout.EnsureDirs())
	require.NoError(t, os.WriteFile(layout.ActiveTaskPath, []byte(activeTask), 0644))

	l := ledger.New(layout.LedgerPath, ledger.Options{Logger: logging.Discard()})
	for _, s := range []string{"refresh loop added", "store tests pass", "restart test flaky"} {
		_, err := l.Append(model.Draft{Kind: "test", Status: model.StatusInfo, Summary: s, Paths: []string{"internal/auth/refresh.go"}})
		require.NoError(t, err)
	}

	c := compile.NewCompiler(layout, l, logging.Discard(), nil)
	c.SetClock(func() time.Time { return fixedNow })
	r := benchmark.NewRunner(layout, c, benchmark.Options{
		Logger: logging.Discard(),
		Now:    func() time.Time { return fixedNow },
	})
	return &fixture{layout: layout, ledger: l, runner: r}
}

func baseOptions() compile.Options {
	return compile.Options{
		MaxEvents:    25,
		MaxDecisions: 6,
		PackMode:     compile.PackPrefix,
	}
}

func TestRun_ScoresEachBudget(t *testing.T) {
	f := setup(t)
	rep, err := f.runner.Run(baseOptions(), []int{20, 1800})
	require.NoError(t, err)
	require.Len(t, rep.Results, 2)

	tiny, full := rep.Results[0], rep.Results[1]
	assert.True(t, tiny.OK)
	assert.Less(t, tiny.Coverage, full.Coverage)
	assert.NotEmpty(t, tiny.Omitted)

	// Every weighted heading, both key paths, both criteria and three events.
	assert.Equal(t, 2, full.KeyPathHits)
	assert.Equal(t, 2, full.CriteriaTotal)
	assert.Equal(t, 2, full.CriteriaHits)
	assert.Equal(t, 3, full.EventLines)
	assert.Equal(t, 70+20+10+9, full.Coverage)
	assert.InDelta(t, float64(full.Coverage)*100/float64(full.TokensUsed), full.Efficiency, 1e-9)
	assert.Equal(t, full, rep.Recommended)

	assert.Contains(t, rep.Markdown, "# Rehydrate Benchmark\n")
	assert.Contains(t, rep.Markdown, "- Query: `none`")
	assert.Contains(t, rep.Markdown, "| 1800 | true | ")
	assert.Contains(t, rep.Markdown, "- Recommended budget: `1800`")
	assert.Contains(t, rep.Markdown, "- Omitted blocks at recommended budget: `none`")
}

func TestRun_NoBudgets(t *testing.T) {
	f := setup(t)
	_, err := f.runner.Run(baseOptions(), nil)
	assert.Error(t, err)
}

func TestRun_CompileFailureIsReported(t *testing.T) {
	f := setup(t)
	opts := baseOptions()
	opts.PackMode = "greedy"
	rep, err := f.runner.Run(opts, []int{400})
	require.NoError(t, err)
	assert.False(t, rep.Results[0].OK)
	assert.NotEmpty(t, rep.Results[0].Error)
	assert.Equal(t, 400, rep.Recommended.Budget)
}

func TestRecommend(t *testing.T) {
	results := []benchmark.Result{
		{Budget: 400, OK: true, Coverage: 60, TokensUsed: 390, Efficiency: 15.4},
		{Budget: 1000, OK: true, Coverage: 92, TokensUsed: 900, Efficiency: 10.2},
		{Budget: 1400, OK: true, Coverage: 94, TokensUsed: 1300, Efficiency: 7.2},
		{Budget: 1800, OK: false},
	}
	assert.Equal(t, 1000, benchmark.Recommend(results).Budget, "within two points of the best, fewer tokens wins")

	results[1].Coverage = 90
	assert.Equal(t, 1400, benchmark.Recommend(results).Budget)

	assert.Equal(t, 1800, benchmark.Recommend([]benchmark.Result{{Budget: 1800}}).Budget)
	assert.Zero(t, benchmark.Recommend(nil).Budget)
}

func TestRecommend_PrefersPracticalCoverage(t *testing.T) {
	results := []benchmark.Result{
		{Budget: 300, OK: true, Coverage: 74, TokensUsed: 100, Efficiency: 74},
		{Budget: 900, OK: true, Coverage: 76, TokensUsed: 800, Efficiency: 9.5},
	}
	assert.Equal(t, 300, benchmark.Recommend(results).Budget, "74 is within two points of 76 and cheaper")

	results[0].Coverage = 73
	assert.Equal(t, 900, benchmark.Recommend(results).Budget)
}

func TestWriteAndRecord(t *testing.T) {
	f := setup(t)
	rep, err := f.runner.Run(baseOptions(), []int{1800})
	require.NoError(t, err)

	require.NoError(t, f.runner.Write(rep))
	assert.Equal(t, filepath.Join(f.layout.BenchmarksDir, "2026-10-17_093000--benchmark.md"), rep.Output)
	assert.Equal(t, filepath.Join(f.layout.BenchmarksDir, "latest.md"), rep.Latest)
	latest, err := os.ReadFile(rep.Latest)
	require.NoError(t, err)
	assert.Equal(t, rep.Markdown, string(latest))

	e, err := benchmark.Record(f.ledger, rep, "")
	require.NoError(t, err)
	assert.Equal(t, "benchmark", e.Kind)
	assert.Equal(t, benchmark.Source, e.Source)
	assert.Equal(t, "benchmarked rehydrate budgets; recommended 1800", e.Summary)
	require.NotNil(t, e.Payload)
	assert.Equal(t, 1800, e.Payload.Fields["recommended"])
}
