package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/internal/benchmark"
	"github.com/jvs-project/continuity/internal/compile"
	"github.com/jvs-project/continuity/pkg/color"
)

var (
	benchmarkBudgets     []int
	benchmarkQuery       string
	benchmarkTask        string
	benchmarkRecordEvent bool
	benchmarkNoWrite     bool
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Sweep compile budgets and recommend one",
	Long: `Compile the context once per token budget without writing it, score each
document for how much of the active task it carries, and recommend the
cheapest budget whose coverage is within two points of the best.

The report is written to rehydrated/benchmarks/<stamp>--benchmark.md and
rehydrated/benchmarks/latest.md. With --record-event the recommendation is
also appended to the ledger.

Examples:
  continuity benchmark
  continuity benchmark --budgets 300,600,900 --query "token refresh"
  continuity benchmark --record-event --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		base := compileDefaults(a.cfg)
		flags := cmd.Flags()
		if flags.Changed("query") {
			base.Query = benchmarkQuery
		}
		if flags.Changed("task") {
			base.Task = benchmarkTask
		}
		budgets := a.cfg.Benchmark.Budgets
		if flags.Changed("budgets") {
			budgets = benchmarkBudgets
		}

		compiler := compile.NewCompiler(a.layout, a.ledger(), a.log, a.metrics)
		runner := benchmark.NewRunner(a.layout, compiler, benchmark.Options{Logger: a.log, Metrics: a.metrics})
		report, err := runner.Run(base, budgets)
		if err != nil {
			return err
		}
		if !benchmarkNoWrite {
			if err := runner.Write(report); err != nil {
				return err
			}
		}
		var recorded int64
		if benchmarkRecordEvent {
			e, err := benchmark.Record(a.ledger(), report, base.Task)
			if err != nil {
				return err
			}
			recorded = e.Seq
		}

		if jsonOutput {
			out := map[string]any{"report": report}
			if recorded > 0 {
				out["recorded_seq"] = recorded
			}
			return outputJSON(out)
		}
		fmt.Println(color.Header("budget  ok     tokens  coverage  efficiency"))
		for _, r := range report.Results {
			fmt.Printf("%-7d %-6t %-7d %-9d %.2f\n", r.Budget, r.OK, r.TokensUsed, r.Coverage, r.Efficiency)
		}
		rec := report.Recommended
		fmt.Printf("%s %d (coverage %d, ~%d tokens)\n", color.Success("Recommended budget"), rec.Budget, rec.Coverage, rec.TokensUsed)
		if report.Output != "" {
			fmt.Printf("wrote %s\n", report.Output)
		}
		if recorded > 0 {
			fmt.Printf("recorded event E%d\n", recorded)
		}
		return nil
	},
}

func init() {
	flags := benchmarkCmd.Flags()
	flags.IntSliceVar(&benchmarkBudgets, "budgets", nil, "comma-separated token budgets (default from config)")
	flags.StringVar(&benchmarkQuery, "query", "", "free-text focus for event ranking")
	flags.StringVar(&benchmarkTask, "task", "", "task name to favour in event ranking")
	flags.BoolVar(&benchmarkRecordEvent, "record-event", false, "append the recommendation to the ledger")
	flags.BoolVar(&benchmarkNoWrite, "no-write", false, "print without writing the report")
	rootCmd.AddCommand(benchmarkCmd)
}
