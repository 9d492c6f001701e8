package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/internal/diff"
	"github.com/jvs-project/continuity/internal/ref"
	"github.com/jvs-project/continuity/pkg/color"
	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/model"
)

var (
	ctxBranchFrom    string
	ctxCommitBranch  string
	ctxCommitMessage string
	ctxCommitMeta    []string
	ctxMergeTarget   string
	ctxMergeMessage  string
	ctxMergeMeta     []string
	ctxLogLimit      int
)

var ctxCmd = &cobra.Command{
	Use:   "ctx",
	Short: "Version memory artifacts with branches and commits",
	Long: `Manage the branch/commit overlay that snapshots the tracked memory
artifacts (ACTIVE_TASK.md, typed-memory.json, rehydrated/latest.md, ...).
It never touches the project's own version control.`,
}

var ctxInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the branch graph (main with no head)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := ctxManager()
		if err != nil {
			return err
		}
		status, err := mgr.Init()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(status)
		}
		printStatus(status)
		return nil
	},
}

var ctxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active branch and commit count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := ctxManager()
		if err != nil {
			return err
		}
		status, err := mgr.Status()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(status)
		}
		printStatus(status)
		return nil
	},
}

var ctxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List branches and their heads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := ctxManager()
		if err != nil {
			return err
		}
		heads, err := mgr.List()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(heads)
		}
		printHeads(heads)
		return nil
	},
}

var ctxBranchCmd = &cobra.Command{
	Use:   "branch <name>",
	Short: "Create a branch",
	Long: `Create a branch. --from accepts a branch name or a commit id and
defaults to the active branch's head, which may be empty.

Examples:
  continuity ctx branch spike-cache
  continuity ctx branch hotfix --from main`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := ctxManager()
		if err != nil {
			return err
		}
		res, err := mgr.Branch(args[0], ctxBranchFrom)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(res)
		}
		fmt.Printf("Created branch %s at %s\n", color.Branch(res.Branch), headString(res.Head))
		return nil
	},
}

var ctxSwitchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "Make a branch active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := ctxManager()
		if err != nil {
			return err
		}
		res, err := mgr.Switch(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(res)
		}
		if !res.Changed {
			fmt.Printf("Already on %s\n", color.Branch(res.ActiveBranch))
			return nil
		}
		fmt.Printf("Switched to %s\n", color.Branch(res.ActiveBranch))
		return nil
	},
}

var ctxCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Snapshot the tracked artifacts onto a branch",
	Long: `Snapshot every tracked artifact (existence, sha256, size) into a new
commit, advance the branch head and make the branch active.

Examples:
  continuity ctx commit -m "before refactor"
  continuity ctx commit --branch spike-cache --meta reason=checkpoint`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parseMeta(ctxCommitMeta)
		if err != nil {
			return err
		}
		mgr, err := ctxManager()
		if err != nil {
			return err
		}
		res, err := mgr.Commit(ctxCommitBranch, ctxCommitMessage, meta)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(res)
		}
		fmt.Printf("[%s %s] %s\n", color.Branch(res.Branch), color.CommitID(string(res.Commit.CommitID)), res.Commit.Message)
		return nil
	},
}

var ctxMergeCmd = &cobra.Command{
	Use:   "merge <source>",
	Short: "Record a merge of one branch into another",
	Long: `Record a merge commit with parents [target head, source head]. No
content is reconciled: the commit snapshots the artifacts as they are.
Merging a branch whose head equals the target's is a no-op.

Examples:
  continuity ctx merge spike-cache
  continuity ctx merge spike-cache --into release`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parseMeta(ctxMergeMeta)
		if err != nil {
			return err
		}
		mgr, err := ctxManager()
		if err != nil {
			return err
		}
		res, err := mgr.Merge(args[0], ctxMergeTarget, ctxMergeMessage, meta)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(res)
		}
		if res.NoOp {
			fmt.Printf("%s already contains %s, nothing to merge\n", color.Branch(res.Target), color.Branch(res.Source))
			return nil
		}
		fmt.Printf("[%s %s] %s\n", color.Branch(res.Target), color.CommitID(string(res.Commit.CommitID)), res.Commit.Message)
		return nil
	},
}

var ctxLogCmd = &cobra.Command{
	Use:   "log [branch]",
	Short: "Show first-parent history of a branch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := ctxManager()
		if err != nil {
			return err
		}
		branch := ""
		if len(args) > 0 {
			branch = args[0]
		}
		commits, err := mgr.Log(branch, ctxLogLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(commits)
		}
		if len(commits) == 0 {
			fmt.Println("No commits yet.")
			return nil
		}
		for _, c := range commits {
			marker := ""
			if c.IsMerge() {
				marker = color.Dim(" (merge)")
			}
			fmt.Printf("%s  %s  %s%s\n", color.CommitID(string(c.CommitID)), color.Dim(c.Timestamp), c.Message, marker)
		}
		return nil
	},
}

var ctxShowCmd = &cobra.Command{
	Use:   "show <commit-id>",
	Short: "Show one commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := ctxManager()
		if err != nil {
			return err
		}
		c, err := mgr.Show(model.CommitID(args[0]))
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(c)
		}
		fmt.Printf("%s %s\n", color.Header("commit"), color.CommitID(string(c.CommitID)))
		fmt.Printf("Branch:  %s\n", color.Branch(c.Branch))
		fmt.Printf("Date:    %s\n", c.Timestamp)
		if len(c.Parents) > 0 {
			parents := make([]string, len(c.Parents))
			for i, p := range c.Parents {
				parents[i] = string(p)
			}
			fmt.Printf("Parents: %s\n", strings.Join(parents, ", "))
		}
		fmt.Printf("\n    %s\n\n", c.Message)
		for _, path := range c.TrackedFiles {
			snap := c.FileSnapshots[path]
			if !snap.Exists {
				fmt.Printf("  %-28s %s\n", path, color.Dim("(missing)"))
				continue
			}
			fmt.Printf("  %-28s %s  %d bytes\n", path, snap.SHA256.Short(), snap.SizeBytes)
		}
		return nil
	},
}

var ctxDiffCmd = &cobra.Command{
	Use:   "diff [from] <to>",
	Short: "Compare the artifacts of two commits",
	Long: `Compare the artifact snapshots of two commits. With one argument the
commit is compared against its first parent.

Examples:
  continuity ctx diff ctx-20260101-120000-0123456789ab
  continuity ctx diff ctx-20260101-120000-0123456789ab ctx-20260102-080000-ba9876543210`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := ctxManager()
		if err != nil {
			return err
		}

		var from, to model.CommitID
		if len(args) == 2 {
			from, to = model.CommitID(args[0]), model.CommitID(args[1])
		} else {
			to = model.CommitID(args[0])
			c, err := mgr.Show(to)
			if err != nil {
				return err
			}
			from = c.FirstParent()
		}

		result, err := diff.NewDiffer(mgr).Diff(from, to)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(result)
		}
		fmt.Print(result.FormatHuman())
		return nil
	},
}

func ctxManager() (*ref.Manager, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}
	return a.refs()
}

// parseMeta turns repeated key=value flags into commit metadata.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errclass.ErrPayloadInvalid.WithMessagef("--meta %q: want key=value", pair)
		}
		meta[key] = value
	}
	return meta, nil
}

func headString(head *model.CommitID) string {
	if head == nil {
		return color.Dim("(no commits)")
	}
	return color.CommitID(string(*head))
}

func printStatus(s *ref.Status) {
	fmt.Printf("On branch %s\n", color.Branch(s.ActiveBranch))
	fmt.Printf("%d branches, %d commits\n", s.BranchCount, s.CommitCount)
	printHeads(s.Branches)
}

func printHeads(heads []ref.BranchHead) {
	for _, h := range heads {
		marker := " "
		if h.Active {
			marker = "*"
		}
		fmt.Printf("%s %-20s %s\n", marker, h.Name, headString(h.Head))
	}
}

func init() {
	ctxBranchCmd.Flags().StringVar(&ctxBranchFrom, "from", "", "branch name or commit id to start from")

	ctxCommitCmd.Flags().StringVar(&ctxCommitBranch, "branch", "", "branch to commit on (default active)")
	ctxCommitCmd.Flags().StringVarP(&ctxCommitMessage, "message", "m", "", "commit message")
	ctxCommitCmd.Flags().StringArrayVar(&ctxCommitMeta, "meta", nil, "metadata key=value (repeatable)")

	ctxMergeCmd.Flags().StringVar(&ctxMergeTarget, "into", "", "target branch (default active)")
	ctxMergeCmd.Flags().StringVarP(&ctxMergeMessage, "message", "m", "", "merge message")
	ctxMergeCmd.Flags().StringArrayVar(&ctxMergeMeta, "meta", nil, "metadata key=value (repeatable)")

	ctxLogCmd.Flags().IntVarP(&ctxLogLimit, "limit", "n", 20, "maximum commits to show (0 for all)")

	ctxCmd.AddCommand(ctxInitCmd)
	ctxCmd.AddCommand(ctxStatusCmd)
	ctxCmd.AddCommand(ctxListCmd)
	ctxCmd.AddCommand(ctxBranchCmd)
	ctxCmd.AddCommand(ctxSwitchCmd)
	ctxCmd.AddCommand(ctxCommitCmd)
	ctxCmd.AddCommand(ctxMergeCmd)
	ctxCmd.AddCommand(ctxLogCmd)
	ctxCmd.AddCommand(ctxShowCmd)
	ctxCmd.AddCommand(ctxDiffCmd)
	rootCmd.AddCommand(ctxCmd)
}
