package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jvs-project/continuity/internal/gc"
	"github.com/jvs-project/continuity/pkg/color"
	"github.com/jvs-project/continuity/pkg/progress"
)

var (
	gcDryRun        bool
	gcKeepDocuments int
	gcKeepBackups   int
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Prune old compiled documents, traces and ledger backups",
	Long: `Remove timestamped context documents, traces, eval and benchmark reports
and ledger backups beyond the configured retention. The newest files of each
kind and anything younger than gc.min_age are kept. The latest* files,
snapshot notes and the ledger itself are never removed.

Examples:
  continuity gc --dry-run
  continuity gc --keep-documents 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		policy := gc.Policy{
			KeepDocuments: a.cfg.GC.KeepDocuments,
			KeepBackups:   a.cfg.GC.KeepBackups,
			MinAge:        a.cfg.GC.MinAgeDuration(),
		}
		if cmd.Flags().Changed("keep-documents") {
			policy.KeepDocuments = gcKeepDocuments
		}
		if cmd.Flags().Changed("keep-backups") {
			policy.KeepBackups = gcKeepBackups
		}
		if policy.KeepDocuments < 0 || policy.KeepBackups < 0 {
			return fmt.Errorf("retention counts must not be negative")
		}

		opts := gc.Options{Logger: a.log, Metrics: a.metrics}
		var bar *progress.Terminal
		if !jsonOutput && !gcDryRun && term.IsTerminal(int(os.Stderr.Fd())) {
			bar = progress.NewTerminal(os.Stderr)
			opts.Progress = bar.Callback()
		}
		c := gc.NewCollector(a.layout, opts)
		plan, err := c.Plan(policy)
		if err != nil {
			return err
		}

		if gcDryRun {
			if jsonOutput {
				return outputJSON(plan)
			}
			for _, cand := range plan.Candidates {
				fmt.Printf("would remove %-8s %s\n", cand.Kind, cand.Path)
			}
			fmt.Printf("%s %d files, %d bytes would be removed, %d kept\n",
				color.Warning("dry run:"), len(plan.Candidates), plan.Bytes, plan.Kept)
			return nil
		}

		result, err := c.Run(plan)
		if bar != nil {
			bar.Done()
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(result)
		}
		fmt.Printf("%s %d files (%d bytes), %d kept\n",
			color.Success("Removed"), len(result.Deleted), result.Bytes, plan.Kept)
		if n := len(result.Skipped); n > 0 {
			fmt.Printf("%s %d files changed since planning and were skipped\n", color.Warning("note:"), n)
		}
		return nil
	},
}

func init() {
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "list what would be removed without deleting")
	gcCmd.Flags().IntVar(&gcKeepDocuments, "keep-documents", 0, "newest documents and traces to keep (default from config)")
	gcCmd.Flags().IntVar(&gcKeepBackups, "keep-backups", 0, "newest ledger backups to keep (default from config)")
	rootCmd.AddCommand(gcCmd)
}
