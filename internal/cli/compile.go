package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jvs-project/continuity/internal/compile"
	"github.com/jvs-project/continuity/internal/repo"
	"github.com/jvs-project/continuity/pkg/config"
)

var (
	compileBudget          int
	compileQuery           string
	compileTask            string
	compileMaxEvents       int
	compileMaxDecisions    int
	compileNoTypedMemory   bool
	compileTypedMemoryPath string
	compilePackMode        string
	compileNoWrite         bool
	compileNoTrace         bool
	compileRender          bool
)

const defaultRenderWidth = 100

var compileCmd = &cobra.Command{
	Use:     "compile",
	Aliases: []string{"rehydrate"},
	Short:   "Compile a token-budgeted working context",
	Long: `Compile the working context: notes sections, typed-memory signals and
the highest ranked ledger events, packed greedily by priority into the
token budget. The document is written to rehydrated/latest.md together
with a trace explaining every packing and ranking decision.

Examples:
  continuity compile
  continuity compile --budget-tokens 800 --query "flaky login test"
  continuity compile --task auth-refactor --pack-mode first-fit --render
  continuity compile --no-write --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		opts := compileOptions(cmd, a.cfg)
		if compileTypedMemoryPath != "" {
			opts.TypedMemoryPath = compileTypedMemoryPath
		}

		compiler := compile.NewCompiler(a.layout, a.ledger(), a.log, a.metrics)
		doc, trace, err := compiler.Compile(opts)
		if err != nil {
			return err
		}

		var written *compile.Written
		if !compileNoWrite {
			if compileNoTrace {
				trace = nil
			}
			if written, err = writeDocument(a.layout, doc, trace); err != nil {
				return err
			}
		}

		if jsonOutput {
			out := map[string]any{
				"used_tokens":   doc.UsedTokens,
				"budget_tokens": opts.BudgetTokens,
				"included":      doc.Included,
				"omitted":       doc.Omitted,
				"generated_at":  doc.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"),
				"markdown":      doc.Markdown,
				"files":         written,
			}
			if trace != nil {
				out["trace"] = trace
			}
			return outputJSON(out)
		}

		if compileRender {
			rendered, err := compile.RenderTerminal(doc.Markdown, terminalWidth())
			if err != nil {
				return err
			}
			fmt.Print(rendered)
		} else {
			fmt.Print(doc.Markdown)
		}
		if written != nil {
			fmt.Fprintf(os.Stderr, "wrote %s (%d/%d tokens)\n", written.LatestDocument, doc.UsedTokens, opts.BudgetTokens)
		}
		return nil
	},
}

func compileDefaults(cfg *config.Config) compile.Options {
	return compile.Options{
		BudgetTokens:   cfg.Compile.BudgetTokens,
		Query:          cfg.Cycle.Query,
		Task:           cfg.Cycle.Task,
		MaxEvents:      cfg.Compile.MaxEvents,
		MaxDecisions:   cfg.Compile.MaxDecisions,
		UseTypedMemory: cfg.Compile.UseTypedMemory,
		PackMode:       compile.PackMode(cfg.Compile.PackMode),
	}
}

// compileOptions starts from the config and applies the flags the user set.
func compileOptions(cmd *cobra.Command, cfg *config.Config) compile.Options {
	opts := compileDefaults(cfg)
	if compileNoTypedMemory {
		opts.UseTypedMemory = false
	}
	flags := cmd.Flags()
	if flags.Changed("budget-tokens") {
		opts.BudgetTokens = compileBudget
	}
	if flags.Changed("query") {
		opts.Query = compileQuery
	}
	if flags.Changed("task") {
		opts.Task = compileTask
	}
	if flags.Changed("max-events") {
		opts.MaxEvents = compileMaxEvents
	}
	if flags.Changed("max-decisions") {
		opts.MaxDecisions = compileMaxDecisions
	}
	if flags.Changed("pack-mode") {
		opts.PackMode = compile.PackMode(compilePackMode)
	}
	return opts
}

func writeDocument(layout repo.Layout, doc *compile.Document, trace *compile.Trace) (*compile.Written, error) {
	if err := layout.EnsureDirs(); err != nil {
		return nil, err
	}
	return compile.NewWriter(layout).Write(doc, trace)
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultRenderWidth
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return defaultRenderWidth
	}
	return width
}

func init() {
	flags := compileCmd.Flags()
	flags.IntVar(&compileBudget, "budget-tokens", 0, "approximate token budget (default from config)")
	flags.StringVar(&compileQuery, "query", "", "free-text focus for event ranking")
	flags.StringVar(&compileTask, "task", "", "task name to favour in event ranking")
	flags.IntVar(&compileMaxEvents, "max-events", 0, "ranked events to include (default from config)")
	flags.IntVar(&compileMaxDecisions, "max-decisions", 0, "decision titles to include (default from config)")
	flags.BoolVar(&compileNoTypedMemory, "no-typed-memory", false, "ignore typed-memory.json")
	flags.StringVar(&compileTypedMemoryPath, "typed-memory-path", "", "read typed memory from this file")
	flags.StringVar(&compilePackMode, "pack-mode", "", "prefix or first-fit (default from config)")
	flags.BoolVar(&compileNoWrite, "no-write", false, "print without writing files")
	flags.BoolVar(&compileNoTrace, "no-trace", false, "do not write the trace files")
	flags.BoolVar(&compileRender, "render", false, "pretty-print the markdown for the terminal")
	rootCmd.AddCommand(compileCmd)
}
