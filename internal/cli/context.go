package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jvs-project/continuity/internal/gitstate"
	"github.com/jvs-project/continuity/internal/ledger"
	"github.com/jvs-project/continuity/internal/ref"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/config"
	"github.com/jvs-project/continuity/pkg/logging"
	"github.com/jvs-project/continuity/pkg/metrics"
	"github.com/jvs-project/continuity/pkg/model"
	"github.com/jvs-project/continuity/pkg/pathutil"
)

// app is the per-invocation environment shared by all commands.
type app struct {
	repo        *repo.Repo
	cfg         *config.Config
	layout      repo.Layout
	log         *logging.Logger
	metrics     *metrics.Registry
	metricsFile string
}

// current is the environment of the running command, kept for the
// metrics flush after the command returns.
var current *app

// loadApp discovers the repository, resolves the memory root, loads its
// config and sets up logging and metrics.
func loadApp() (*app, error) {
	start := repoPath
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("cannot get current directory: %w", err)
		}
		start = cwd
	}
	r, err := repo.Discover(pathutil.ExpandHome(start))
	if err != nil {
		return nil, err
	}
	memoryRoot, err := repo.MemoryRoot(memoryRootPath, r)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(memoryRoot)
	if err != nil {
		return nil, err
	}

	levelName := cfg.Logging.Level
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	log := logging.NewLogger(level)
	log.SetFormat(logging.Format(cfg.Logging.Format))
	logging.SetGlobal(log)

	textfile := cfg.Metrics.Textfile
	if metricsFile != "" {
		textfile = metricsFile
	}
	if textfile != "" && !filepath.IsAbs(textfile) {
		textfile = filepath.Join(memoryRoot, pathutil.ExpandHome(textfile))
	}

	a := &app{
		repo:        r,
		cfg:         cfg,
		layout:      repo.NewLayout(r, memoryRoot, cfg),
		log:         log,
		metrics:     metrics.NewRegistry(),
		metricsFile: textfile,
	}
	current = a
	return a, nil
}

func (a *app) ledger() *ledger.Ledger {
	return ledger.New(a.layout.LedgerPath, ledger.Options{
		RepoRoot: a.repo.Root,
		RepoID:   a.repo.ID,
		Logger:   a.log,
		Metrics:  a.metrics,
	})
}

func (a *app) git() *gitstate.Client {
	return gitstate.New(a.repo.Root, gitstate.Options{
		Timeout: a.cfg.Cycle.GitTimeoutDuration(),
		Exclude: a.layout.MemoryRoot,
		Logger:  a.log,
	})
}

func (a *app) refs() (*ref.Manager, error) {
	policy, err := model.ParseRecordPolicy(a.cfg.Refs.RecordEvents)
	if err != nil {
		return nil, err
	}
	return ref.NewManager(a.layout, ref.Options{
		TrackedArtifacts: a.cfg.Refs.TrackedArtifacts,
		RecordPolicy:     policy,
		Sink:             a.ledger(),
		Logger:           a.log,
		Metrics:          a.metrics,
	}), nil
}

// flushMetrics writes the metrics textfile of the last command, if any.
func flushMetrics() {
	a := current
	current = nil
	if a == nil || a.metricsFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(a.metricsFile), 0755); err != nil {
		a.log.ErrorErr("create metrics directory", err)
		return
	}
	if err := a.metrics.WriteTextfile(a.metricsFile); err != nil {
		a.log.ErrorErr("write metrics textfile", err, map[string]any{"path": a.metricsFile})
	}
}
