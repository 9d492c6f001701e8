package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/pkg/color"
)

var (
	jsonOutput     bool
	repoPath       string
	memoryRootPath string
	logLevel       string
	metricsFile    string
	noColor        bool
)

var rootCmd = &cobra.Command{
	Use:   "continuity",
	Short: "continuity - durable working history and context compiler for agents",
	Long: `continuity keeps a tamper-evident, hash-chained ledger of an agent's
working history for a project and compiles a token-budgeted working
context from it on demand.

Memory artifacts live outside the project, under
$CONTINUITY_HOME/memory/<repo-id> (default ~/.continuity/memory/<repo-id>),
unless --memory-root is given.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		color.Init(noColor)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&repoPath, "repo", "", "project repository (default: discovered from the current directory)")
	flags.StringVar(&memoryRootPath, "memory-root", "", "memory root directory (overrides $CONTINUITY_HOME)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default from config)")
	flags.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the command")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
}

// exitError carries a non-default process exit status, e.g. from verify.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command and exits the process on failure.
func Execute() {
	err := rootCmd.Execute()
	flushMetrics()
	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmtErr("%v", err)
		os.Exit(1)
	}
}

// outputJSON prints v as indented JSON if --json flag is set.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtErr(format string, args ...any) {
	prefix := "continuity: "
	if color.Enabled() {
		prefix = color.Error("continuity:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}

func fmtWarn(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.Warning("warning:")+" "+fmt.Sprintf(format, args...))
}
