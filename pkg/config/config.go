// Package config provides configuration file support for continuity.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/fsutil"
)

// FileName is the config file name under the memory root.
const FileName = "config.yaml"

// Config represents the continuity configuration.
type Config struct {
	Ledger      LedgerConfig      `yaml:"ledger"`
	Refs        RefsConfig        `yaml:"refs"`
	TypedMemory TypedMemoryConfig `yaml:"typed_memory"`
	Compile     CompileConfig     `yaml:"compile"`
	Verify      VerifyConfig      `yaml:"verify"`
	Cycle       CycleConfig       `yaml:"cycle"`
	GC          GCConfig          `yaml:"gc"`
	Eval        EvalConfig        `yaml:"eval"`
	Benchmark   BenchmarkConfig   `yaml:"benchmark"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LedgerConfig locates the event ledger. A relative path is resolved
// against the memory root.
type LedgerConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// RefsConfig configures the branch graph.
type RefsConfig struct {
	TrackedArtifacts []string `yaml:"tracked_artifacts" validate:"min=1,dive,required"`
	RecordEvents     string   `yaml:"record_events" validate:"oneof=off on-change always"`
}

// TypedMemoryConfig configures the typed-memory aggregator.
type TypedMemoryConfig struct {
	Window       int    `yaml:"window" validate:"gte=0"`
	TopN         int    `yaml:"top_n" validate:"gte=1"`
	RecordEvents string `yaml:"record_events" validate:"oneof=off on-change always"`
}

// CompileConfig configures the context compiler.
type CompileConfig struct {
	BudgetTokens   int    `yaml:"budget_tokens" validate:"gte=1"`
	MaxEvents      int    `yaml:"max_events" validate:"gte=1"`
	MaxDecisions   int    `yaml:"max_decisions" validate:"gte=1"`
	PackMode       string `yaml:"pack_mode" validate:"oneof=prefix first-fit"`
	UseTypedMemory bool   `yaml:"use_typed_memory"`
}

// VerifyConfig configures the integrity verifier.
type VerifyConfig struct {
	Strict     bool     `yaml:"strict"`
	IgnoreRefs []string `yaml:"ignore_refs" validate:"dive,required"`
}

// CycleConfig configures the automation cycle and watch loop.
type CycleConfig struct {
	Interval string `yaml:"interval" validate:"required"`
	Debounce string `yaml:"debounce" validate:"required"`
	Query    string `yaml:"query"`
	Task     string `yaml:"task"`
	// SnapshotMinInterval spaces automatic snapshots; empty disables them.
	SnapshotMinInterval string `yaml:"snapshot_min_interval"`
	// GitSnapshot writes a git snapshot note alongside each automatic
	// context commit.
	GitSnapshot bool   `yaml:"git_snapshot"`
	GitTimeout  string `yaml:"git_timeout"`
}

// IntervalDuration returns the parsed fallback interval.
func (c CycleConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

// DebounceDuration returns the parsed debounce window.
func (c CycleConfig) DebounceDuration() time.Duration {
	d, _ := time.ParseDuration(c.Debounce)
	return d
}

// SnapshotMinDuration returns the parsed snapshot spacing, 0 when disabled.
func (c CycleConfig) SnapshotMinDuration() time.Duration {
	d, _ := time.ParseDuration(c.SnapshotMinInterval)
	return d
}

// GitTimeoutDuration returns the parsed git command timeout, 0 when unset.
func (c CycleConfig) GitTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.GitTimeout)
	return d
}

// GCConfig is the retention policy for timestamped documents, traces and
// ledger backups. The latest document and trace are never collected.
type GCConfig struct {
	KeepDocuments int    `yaml:"keep_documents" validate:"gte=1"`
	KeepBackups   int    `yaml:"keep_backups" validate:"gte=0"`
	MinAge        string `yaml:"min_age"`
}

// MinAgeDuration returns the parsed minimum age, 0 when unset.
func (c GCConfig) MinAgeDuration() time.Duration {
	d, _ := time.ParseDuration(c.MinAge)
	return d
}

// EvalConfig holds the thresholds a compiled document is scored against.
type EvalConfig struct {
	MinPathCoverage float64 `yaml:"min_path_coverage" validate:"gte=0,lte=1"`
	MinRiskCoverage float64 `yaml:"min_risk_coverage" validate:"gte=0,lte=1"`
	MaxUtilization  float64 `yaml:"max_utilization" validate:"gt=0"`
	// RiskWindow is how many of the newest warning and failure events must
	// be covered.
	RiskWindow int `yaml:"risk_window" validate:"gte=1"`
}

// BenchmarkConfig lists the budgets a benchmark sweep compiles.
type BenchmarkConfig struct {
	Budgets []int `yaml:"budgets" validate:"min=1,dive,gte=1"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// MetricsConfig configures the Prometheus textfile export. Empty disables it.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// DefaultTrackedArtifacts are versioned by context commits.
var DefaultTrackedArtifacts = []string{
	"ACTIVE_TASK.md",
	"PROJECT_MEMORY.md",
	"DECISIONS.md",
	"planning/ACTIVE.md",
	"typed-memory.json",
	"rehydrated/latest.md",
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{Path: filepath.Join("events", "events.jsonl")},
		Refs: RefsConfig{
			TrackedArtifacts: append([]string(nil), DefaultTrackedArtifacts...),
			RecordEvents:     "on-change",
		},
		TypedMemory: TypedMemoryConfig{
			Window:       500,
			TopN:         12,
			RecordEvents: "on-change",
		},
		Compile: CompileConfig{
			BudgetTokens:   1800,
			MaxEvents:      25,
			MaxDecisions:   6,
			PackMode:       "prefix",
			UseTypedMemory: true,
		},
		Verify: VerifyConfig{
			IgnoreRefs: []string{"http://*", "https://*"},
		},
		Cycle: CycleConfig{
			Interval:            "5m",
			Debounce:            "2s",
			SnapshotMinInterval: "30m",
			GitSnapshot:         true,
			GitTimeout:          "5s",
		},
		GC: GCConfig{
			KeepDocuments: 50,
			KeepBackups:   5,
			MinAge:        "24h",
		},
		Eval: EvalConfig{
			MinPathCoverage: 0.8,
			MinRiskCoverage: 0.75,
			MaxUtilization:  1.0,
			RiskWindow:      25,
		},
		Benchmark: BenchmarkConfig{
			Budgets: []int{400, 700, 1000, 1400, 1800},
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "json",
		},
	}
}

// Path returns the config file location for a memory root.
func Path(memoryRoot string) string {
	return filepath.Join(memoryRoot, FileName)
}

// Load loads configuration from <memoryRoot>/config.yaml.
// Returns default config if file doesn't exist.
func Load(memoryRoot string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(memoryRoot))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errclass.ErrConfigInvalid.WithMessagef("parse %s: %v", Path(memoryRoot), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to <memoryRoot>/config.yaml.
func Save(memoryRoot string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := fsutil.AtomicWrite(Path(memoryRoot), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and duration syntax.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errclass.ErrConfigInvalid.WithMessagef("%s: failed %q (value %v)",
				strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag(), fe.Value())
		}
		return errclass.ErrConfigInvalid.WithMessage(err.Error())
	}
	for name, raw := range map[string]string{"cycle.interval": c.Cycle.Interval, "cycle.debounce": c.Cycle.Debounce} {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return errclass.ErrConfigInvalid.WithMessagef("%s: invalid duration %q", name, raw)
		}
	}
	optional := []struct{ name, raw string }{
		{"cycle.snapshot_min_interval", c.Cycle.SnapshotMinInterval},
		{"cycle.git_timeout", c.Cycle.GitTimeout},
		{"gc.min_age", c.GC.MinAge},
	}
	for _, o := range optional {
		if o.raw == "" {
			continue
		}
		if d, err := time.ParseDuration(o.raw); err != nil || d < 0 {
			return errclass.ErrConfigInvalid.WithMessagef("%s: invalid duration %q", o.name, o.raw)
		}
	}
	return nil
}

// LedgerPath resolves the ledger location against memoryRoot.
func (c *Config) LedgerPath(memoryRoot string) string {
	if filepath.IsAbs(c.Ledger.Path) {
		return c.Ledger.Path
	}
	return filepath.Join(memoryRoot, c.Ledger.Path)
}
