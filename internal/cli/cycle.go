package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/internal/cycle"
	"github.com/jvs-project/continuity/pkg/color"
)

var (
	cycleForce      bool
	cycleQuery      string
	cycleTask       string
	cycleNoSnapshot bool
	cycleInterval   time.Duration
	cycleDebounce   time.Duration
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run the automation cycle",
	Long: `Run the automation cycle: verify the ledger strictly, and when the
memory inputs or the git checkout changed since the last run, refresh
typed memory, recompile the working context, then snapshot the tracked
artifacts and write a git snapshot note. Every outcome is recorded in
automation/cycle-state.json and as an automation event.`,
}

var cycleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one cycle",
	Long: `Run one cycle and exit. Unchanged inputs are skipped unless --force.

Examples:
  continuity cycle run
  continuity cycle run --force --query "release checklist"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newCycleRunner(cmd, nil)
		if err != nil {
			return err
		}
		res, err := runner.RunOnce(cycleForce)
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := outputJSON(res); err != nil {
				return err
			}
		} else {
			printCycleResult(res)
		}
		if !res.OK {
			return &exitError{code: 1}
		}
		return nil
	},
}

var cycleWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run cycles whenever memory files change",
	Long: `Watch the memory root, the ledger directory and planning/ and run a
cycle after each burst of changes, plus once per fallback interval. Stops
on SIGINT or SIGTERM.

Examples:
  continuity cycle watch
  continuity cycle watch --interval 10m --debounce 5s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report := func(res *cycle.Result) {
			if jsonOutput {
				outputJSON(res)
				return
			}
			printCycleResult(res)
		}
		runner, err := newCycleRunner(cmd, report)
		if err != nil {
			return err
		}
		return runner.Watch(ctx)
	},
}

func newCycleRunner(cmd *cobra.Command, onResult func(*cycle.Result)) (*cycle.Runner, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}

	opts := compileDefaults(a.cfg)
	flags := cmd.Flags()
	if flags.Changed("query") {
		opts.Query = cycleQuery
	}
	if flags.Changed("task") {
		opts.Task = cycleTask
	}

	interval := a.cfg.Cycle.IntervalDuration()
	if flags.Changed("interval") {
		interval = cycleInterval
	}
	debounce := a.cfg.Cycle.DebounceDuration()
	if flags.Changed("debounce") {
		debounce = cycleDebounce
	}
	snapshotEvery := a.cfg.Cycle.SnapshotMinDuration()
	if cycleNoSnapshot {
		snapshotEvery = 0
	}

	return cycle.NewRunner(a.layout, a.ledger(), cycle.Options{
		Compile:             opts,
		TypedWindow:         a.cfg.TypedMemory.Window,
		TypedTopN:           a.cfg.TypedMemory.TopN,
		IgnoreRefs:          a.cfg.Verify.IgnoreRefs,
		TrackedArtifacts:    a.cfg.Refs.TrackedArtifacts,
		SnapshotMinInterval: snapshotEvery,
		GitSnapshot:         a.cfg.Cycle.GitSnapshot,
		GitTimeout:          a.cfg.Cycle.GitTimeoutDuration(),
		Interval:            interval,
		Debounce:            debounce,
		OnResult:            onResult,
		Logger:              a.log,
		Metrics:             a.metrics,
	}), nil
}

func printCycleResult(res *cycle.Result) {
	var outcome string
	switch res.Outcome {
	case cycle.OutcomeUpdated:
		outcome = color.Success(res.Outcome)
	case cycle.OutcomeSkipped:
		outcome = color.Dim(res.Outcome)
	default:
		outcome = color.Error(res.Outcome)
	}
	fmt.Printf("cycle %s: %s\n", outcome, res.Message)
	if res.Document != "" {
		fmt.Printf("  document: %s\n", res.Document)
	}
	if res.Snapshot != "" {
		fmt.Printf("  snapshot: %s\n", color.CommitID(string(res.Snapshot)))
	}
	if res.GitSnapshot != "" {
		fmt.Printf("  git snapshot: %s\n", res.GitSnapshot)
	}
}

func init() {
	cycleRunCmd.Flags().BoolVar(&cycleForce, "force", false, "recompile even when inputs are unchanged")
	for _, c := range []*cobra.Command{cycleRunCmd, cycleWatchCmd} {
		c.Flags().StringVar(&cycleQuery, "query", "", "ranking query (default from config)")
		c.Flags().StringVar(&cycleTask, "task", "", "task focus (default from config)")
		c.Flags().BoolVar(&cycleNoSnapshot, "no-snapshot", false, "never take automatic snapshots")
	}
	cycleWatchCmd.Flags().DurationVar(&cycleInterval, "interval", 0, "fallback interval between cycles (default from config)")
	cycleWatchCmd.Flags().DurationVar(&cycleDebounce, "debounce", 0, "quiet period after a change (default from config)")

	cycleCmd.AddCommand(cycleRunCmd)
	cycleCmd.AddCommand(cycleWatchCmd)
	rootCmd.AddCommand(cycleCmd)
}
