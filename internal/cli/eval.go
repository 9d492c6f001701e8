package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/internal/eval"
	"github.com/jvs-project/continuity/pkg/color"
)

var (
	evalDocument        string
	evalRiskWindow      int
	evalMinPathCoverage float64
	evalMinRiskCoverage float64
	evalMaxUtilization  float64
	evalNoWrite         bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score the compiled context against the current notes and ledger",
	Long: `Check that the compiled context still covers the work: the share of
ACTIVE_TASK key paths it mentions, the share of recent warning and failure
events it cites by hash, and its token usage against the budget.

The report is written to rehydrated/evals/<stamp>--eval.json and
rehydrated/evals/latest-eval.json. The command exits with status 3 when
any check fails.

Examples:
  continuity eval
  continuity eval --min-path-coverage 1 --risk-window 10
  continuity eval --document /tmp/context.md --no-write --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		th := eval.Thresholds{
			MinPathCoverage: a.cfg.Eval.MinPathCoverage,
			MinRiskCoverage: a.cfg.Eval.MinRiskCoverage,
			MaxUtilization:  a.cfg.Eval.MaxUtilization,
			RiskWindow:      a.cfg.Eval.RiskWindow,
		}
		flags := cmd.Flags()
		if flags.Changed("min-path-coverage") {
			th.MinPathCoverage = evalMinPathCoverage
		}
		if flags.Changed("min-risk-coverage") {
			th.MinRiskCoverage = evalMinRiskCoverage
		}
		if flags.Changed("max-token-utilization") {
			th.MaxUtilization = evalMaxUtilization
		}
		if flags.Changed("risk-window") {
			th.RiskWindow = evalRiskWindow
		}

		ev := eval.NewEvaluator(a.layout, a.ledger(), eval.Options{Logger: a.log, Metrics: a.metrics})
		report, err := ev.Evaluate(evalDocument, th)
		if err != nil {
			return err
		}
		if !evalNoWrite {
			if err := ev.Write(report); err != nil {
				return err
			}
		}

		if jsonOutput {
			if err := outputJSON(report); err != nil {
				return err
			}
		} else {
			printEval(report)
		}
		if !report.OverallPass {
			return &exitError{code: 3}
		}
		return nil
	},
}

func printEval(r *eval.Report) {
	m := r.Metrics
	check := func(ok bool) string {
		if ok {
			return color.Success("pass")
		}
		return color.Error("fail")
	}
	fmt.Printf("document:          %s\n", r.DocumentPath)
	fmt.Printf("path coverage:     %.2f (%d/%d) %s\n", m.PathCoverage, m.MatchedPathCount, m.KeyPathCount, check(r.Checks.PathCoverage))
	fmt.Printf("risk coverage:     %.2f (%d/%d) %s\n", m.RiskCoverage, m.CoveredRiskCount, m.RiskEventCount, check(r.Checks.RiskCoverage))
	fmt.Printf("token utilization: %.2f (%d/%d) %s\n", m.TokenUtilization, m.TokenUsed, m.TokenBudget, check(r.Checks.TokenUtilization))
	fmt.Printf("document exists:   %s\n", check(r.Checks.DocumentExists))
	for _, p := range r.MissingPaths {
		fmt.Printf("  missing path: %s\n", p)
	}
	if r.Output != "" {
		fmt.Printf("wrote %s\n", r.Output)
	}
	if r.OverallPass {
		fmt.Println(color.Success("OK") + " context covers the active task")
	} else {
		fmt.Println(color.Error("FAILED") + " context is missing coverage")
	}
}

func init() {
	flags := evalCmd.Flags()
	flags.StringVar(&evalDocument, "document", "", "document to score (default rehydrated/latest.md)")
	flags.IntVar(&evalRiskWindow, "risk-window", 0, "newest warning/failure events to consider (default from config)")
	flags.Float64Var(&evalMinPathCoverage, "min-path-coverage", 0, "required key path coverage, 0-1 (default from config)")
	flags.Float64Var(&evalMinRiskCoverage, "min-risk-coverage", 0, "required risk event coverage, 0-1 (default from config)")
	flags.Float64Var(&evalMaxUtilization, "max-token-utilization", 0, "highest allowed used/budget ratio (default from config)")
	flags.BoolVar(&evalNoWrite, "no-write", false, "print without writing the report")
	rootCmd.AddCommand(evalCmd)
}
