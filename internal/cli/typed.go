package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/internal/typed"
	"github.com/jvs-project/continuity/pkg/color"
	"github.com/jvs-project/continuity/pkg/model"
)

var (
	typedWindow      int
	typedTopN        int
	typedRecordEvent string
	typedNoWrite     bool
	typedMarkdown    bool
)

var typedCmd = &cobra.Command{
	Use:   "typed",
	Short: "Refresh the typed-memory summary",
	Long: `Aggregate recent ledger events into typed-memory.json and
typed-memory.md: decisions, open risks, recent successes and the most
frequent tasks, paths, symbols and commands.

Examples:
  continuity typed
  continuity typed --window 200 --top-n 5 --markdown
  continuity typed --no-write --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}

		opts := typed.RefreshOptions{
			Window:  a.cfg.TypedMemory.Window,
			TopN:    a.cfg.TypedMemory.TopN,
			NoWrite: typedNoWrite,
		}
		if cmd.Flags().Changed("window") {
			opts.Window = typedWindow
		}
		if cmd.Flags().Changed("top-n") {
			opts.TopN = typedTopN
		}
		policy := a.cfg.TypedMemory.RecordEvents
		if typedRecordEvent != "" {
			policy = typedRecordEvent
		}
		if opts.RecordPolicy, err = model.ParseRecordPolicy(policy); err != nil {
			return err
		}

		res, err := typed.NewWriter(a.layout, a.ledger(), a.log, a.metrics).Refresh(opts)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(res)
		}
		if typedMarkdown {
			fmt.Print(typed.RenderMarkdown(res.Summary))
			return nil
		}
		s := res.Summary
		state := color.Dim("unchanged")
		if res.Changed {
			state = color.Success("changed")
		}
		fmt.Printf("Typed memory %s: %d events, %d decisions, %d risks, %d successes\n",
			state, s.EventCount, s.DecisionCount, s.RiskCount, s.SuccessCount)
		if res.Written {
			fmt.Printf("  %s\n  %s\n", res.JSONPath, res.MarkdownPath)
		}
		if res.Event != nil {
			fmt.Printf("  recorded E%d\n", res.Event.Seq)
		}
		return nil
	},
}

func init() {
	typedCmd.Flags().IntVar(&typedWindow, "window", 0, "analyse only the last N events (0 for all; default from config)")
	typedCmd.Flags().IntVar(&typedTopN, "top-n", 0, "entries per table and list (default from config)")
	typedCmd.Flags().StringVar(&typedRecordEvent, "record-event", "", "off, on-change or always (default from config)")
	typedCmd.Flags().BoolVar(&typedNoWrite, "no-write", false, "compute without writing files")
	typedCmd.Flags().BoolVar(&typedMarkdown, "markdown", false, "print the markdown rendering")
	rootCmd.AddCommand(typedCmd)
}
