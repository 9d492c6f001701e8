package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jvs-project/continuity/pkg/config"
	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 1800, cfg.Compile.BudgetTokens)
	assert.Equal(t, 25, cfg.Compile.MaxEvents)
	assert.Equal(t, 6, cfg.Compile.MaxDecisions)
	assert.Equal(t, "prefix", cfg.Compile.PackMode)
	assert.Equal(t, 500, cfg.TypedMemory.Window)
	assert.Equal(t, 12, cfg.TypedMemory.TopN)
	assert.Equal(t, config.DefaultTrackedArtifacts, cfg.Refs.TrackedArtifacts)
	assert.Equal(t, 5*time.Minute, cfg.Cycle.IntervalDuration())
	assert.Equal(t, 2*time.Second, cfg.Cycle.DebounceDuration())
	assert.Equal(t, 30*time.Minute, cfg.Cycle.SnapshotMinDuration())
	assert.Equal(t, 50, cfg.GC.KeepDocuments)
	assert.Equal(t, 24*time.Hour, cfg.GC.MinAgeDuration())
	assert.True(t, cfg.Cycle.GitSnapshot)
	assert.Equal(t, 5*time.Second, cfg.Cycle.GitTimeoutDuration())
	assert.Equal(t, 0.8, cfg.Eval.MinPathCoverage)
	assert.Equal(t, 0.75, cfg.Eval.MinRiskCoverage)
	assert.Equal(t, 25, cfg.Eval.RiskWindow)
	assert.Equal(t, []int{400, 700, 1000, 1400, 1800}, cfg.Benchmark.Budgets)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NotExists(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `compile:
  budget_tokens: 900
  pack_mode: first-fit
verify:
  strict: true
  ignore_refs: ["PR#*"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(content), 0644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.Compile.BudgetTokens)
	assert.Equal(t, "first-fit", cfg.Compile.PackMode)
	assert.Equal(t, 25, cfg.Compile.MaxEvents)
	assert.True(t, cfg.Verify.Strict)
	assert.Equal(t, []string{"PR#*"}, cfg.Verify.IgnoreRefs)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte("compile: [unclosed"), 0644))

	_, err := config.Load(dir)
	assert.ErrorIs(t, err, errclass.ErrConfigInvalid)
}

func TestLoad_InvalidValue(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte("compile:\n  pack_mode: best\n"), 0644))

	_, err := config.Load(dir)
	require.ErrorIs(t, err, errclass.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "compile.pack_mode")
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*config.Config){
		"zero budget":        func(c *config.Config) { c.Compile.BudgetTokens = 0 },
		"bad record policy":  func(c *config.Config) { c.Refs.RecordEvents = "sometimes" },
		"no tracked files":   func(c *config.Config) { c.Refs.TrackedArtifacts = nil },
		"empty tracked file": func(c *config.Config) { c.Refs.TrackedArtifacts = []string{""} },
		"bad interval":       func(c *config.Config) { c.Cycle.Interval = "soon" },
		"negative debounce":  func(c *config.Config) { c.Cycle.Debounce = "-1s" },
		"bad log level":      func(c *config.Config) { c.Logging.Level = "loud" },
		"zero top_n":         func(c *config.Config) { c.TypedMemory.TopN = 0 },
		"bad snapshot":       func(c *config.Config) { c.Cycle.SnapshotMinInterval = "-5m" },
		"keep no documents":  func(c *config.Config) { c.GC.KeepDocuments = 0 },
		"bad gc age":         func(c *config.Config) { c.GC.MinAge = "a while" },
		"bad git timeout":    func(c *config.Config) { c.Cycle.GitTimeout = "later" },
		"path coverage > 1":  func(c *config.Config) { c.Eval.MinPathCoverage = 1.5 },
		"zero utilization":   func(c *config.Config) { c.Eval.MaxUtilization = 0 },
		"zero risk window":   func(c *config.Config) { c.Eval.RiskWindow = 0 },
		"no budgets":         func(c *config.Config) { c.Benchmark.Budgets = nil },
		"zero budget sweep":  func(c *config.Config) { c.Benchmark.Budgets = []int{400, 0} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Compile.BudgetTokens = 640
	cfg.Metrics.Textfile = "/tmp/continuity.prom"

	require.NoError(t, config.Save(dir, cfg))

	loaded, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLedgerPath(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, filepath.Join("/mem", "events", "events.jsonl"), cfg.LedgerPath("/mem"))
	cfg.Ledger.Path = "/abs/ledger.jsonl"
	assert.Equal(t, "/abs/ledger.jsonl", cfg.LedgerPath("/mem"))
}
