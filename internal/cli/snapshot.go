package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/internal/snapshot"
	"github.com/jvs-project/continuity/pkg/color"
)

var (
	snapshotSlug string
	snapshotNote string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write a git snapshot note for the project",
	Long: `Record the project's git state (branch, HEAD, porcelain status, staged
and unstaged files, diff stat) together with the ledger's event count and
last seq/hash into snapshots/<stamp>[--slug].md under the memory root.

A git command that fails is written into the note instead of failing the
snapshot. Use "ctx commit" to version the memory artifacts themselves.

Examples:
  continuity snapshot
  continuity snapshot --slug before-refactor --note "green build"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		w := snapshot.NewWriter(a.layout, a.ledger(), a.git(), a.log)
		out, err := w.Write(cmd.Context(), snapshot.Options{Slug: snapshotSlug, Note: snapshotNote})
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(out)
		}
		fmt.Printf("%s %s\n", color.Success("Wrote snapshot"), out.Path)
		fmt.Printf("  branch: %s  head: %s  events: %d\n", out.Branch, color.Dim(out.Head), out.Events)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotSlug, "slug", "", "short label added to the file name")
	snapshotCmd.Flags().StringVar(&snapshotNote, "note", "", "one-line note stored in the snapshot")
	rootCmd.AddCommand(snapshotCmd)
}
