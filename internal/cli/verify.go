package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/internal/repair"
	"github.com/jvs-project/continuity/internal/verify"
	"github.com/jvs-project/continuity/pkg/color"
)

var (
	verifyStrict bool
	repairDryRun bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check ledger integrity",
	Long: `Check the ledger's seq numbering, hash chain and event hashes, and
that referenced paths exist.

Exit status is 0 when clean, 2 when errors were found and 3 when only
warnings were found and --strict is set.

Examples:
  continuity verify
  continuity verify --strict --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		strict := verifyStrict || a.cfg.Verify.Strict

		v, err := verify.NewVerifier(a.layout.LedgerPath, a.repo.Root, verify.Options{
			IgnoreRefs: a.cfg.Verify.IgnoreRefs,
			Logger:     a.log,
			Metrics:    a.metrics,
		})
		if err != nil {
			return err
		}
		report, err := v.Verify()
		if err != nil {
			return err
		}

		if jsonOutput {
			if err := outputJSON(map[string]any{
				"ok":     report.OK(strict),
				"strict": strict,
				"report": report,
			}); err != nil {
				return err
			}
		} else {
			printReport(report, strict)
		}

		if code := report.ExitCode(strict); code != 0 {
			return &exitError{code: code}
		}
		return nil
	},
}

func printReport(report *verify.Report, strict bool) {
	for _, f := range report.Errors {
		fmt.Printf("%s %s\n", color.Error("ERROR"), f.String())
	}
	for _, f := range report.Warnings {
		fmt.Printf("%s %s\n", color.Warning("WARN "), f.String())
	}
	summary := fmt.Sprintf("%d events checked, %d errors, %d warnings",
		report.EventsChecked, len(report.Errors), len(report.Warnings))
	if report.OK(strict) {
		fmt.Printf("%s %s\n", color.Success("OK"), summary)
	} else {
		fmt.Printf("%s %s\n", color.Error("FAILED"), summary)
	}
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Renumber and rechain the ledger",
	Long: `Rebuild seq numbers and the prev_hash/hash chain of every event,
keeping all other fields verbatim. The original is backed up to
<ledger>.bak.<timestamp> before it is replaced. A malformed line aborts
the repair without writing anything.

Examples:
  continuity repair --dry-run
  continuity repair`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		r := repair.NewRepairer(a.ledger(), repair.Options{Logger: a.log, Metrics: a.metrics})
		result, err := r.Repair(repairDryRun)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result)
		}
		switch {
		case !result.Changed:
			fmt.Printf("Ledger consistent (%d events), nothing to repair\n", result.EventCount)
		case result.DryRun:
			fmt.Printf("%s would rewrite %d events\n", color.Warning("dry run:"), result.EventCount)
		default:
			fmt.Printf("%s %d events, backup at %s\n", color.Success("Repaired"), result.EventCount, result.BackupPath)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyStrict, "strict", false, "treat warnings as failures (exit 3)")
	repairCmd.Flags().BoolVar(&repairDryRun, "dry-run", false, "report what would change without writing")
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(repairCmd)
}
