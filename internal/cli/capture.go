package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/pkg/color"
	"github.com/jvs-project/continuity/pkg/errclass"
	"github.com/jvs-project/continuity/pkg/model"
)

var (
	captureKind        string
	captureStatus      string
	captureSummary     string
	captureSource      string
	captureTask        string
	capturePaths       []string
	captureSymbols     []string
	captureCommands    []string
	captureRefs        []string
	capturePayloadJSON string
	captureBestEffort  bool
)

var captureCmd = &cobra.Command{
	Use:   "capture [summary]",
	Short: "Append an event to the ledger",
	Long: `Append one event to the hash-chained ledger.

The summary comes from --summary or the positional argument. List flags
may be repeated or comma separated; entries are trimmed and deduplicated.

Examples:
  continuity capture "fixed flaky login test" --kind test --status success
  continuity capture --summary "use sqlite for cache" --kind decision --path internal/cache
  continuity capture --summary "deploy blocked" --status warning --ref PR#42
  continuity capture --best-effort --source git-hook --summary "commit abc123"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := runCapture(args)
		if err != nil {
			if captureBestEffort {
				if current != nil {
					current.log.Warn("capture failed", map[string]any{"error": err.Error()})
				}
				fmtWarn("capture skipped: %v", err)
				return nil
			}
			return err
		}

		if jsonOutput {
			return outputJSON(ev)
		}
		fmt.Printf("Recorded %s %s [%s] %s\n",
			color.Info(fmt.Sprintf("E%d", ev.Seq)), ev.EventID, statusColor(ev.Status), ev.Summary)
		return nil
	},
}

func runCapture(args []string) (*model.Event, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}

	summary := captureSummary
	if summary == "" && len(args) > 0 {
		summary = args[0]
	}

	var payload *model.Payload
	if capturePayloadJSON != "" {
		payload, err = model.ParsePayload([]byte(capturePayloadJSON))
		if err != nil {
			return nil, errclass.ErrPayloadInvalid.WithMessagef("--payload-json: %v", err)
		}
	}

	return a.ledger().Append(model.Draft{
		Kind:     captureKind,
		Status:   model.Status(captureStatus),
		Summary:  summary,
		Source:   captureSource,
		Task:     captureTask,
		Paths:    capturePaths,
		Symbols:  captureSymbols,
		Commands: captureCommands,
		Refs:     captureRefs,
		Payload:  payload,
	})
}

func statusColor(s model.Status) string {
	switch s {
	case model.StatusSuccess:
		return color.Success(string(s))
	case model.StatusWarning:
		return color.Warning(string(s))
	case model.StatusFailure:
		return color.Error(string(s))
	}
	return string(s)
}

func init() {
	flags := captureCmd.Flags()
	flags.StringVar(&captureKind, "kind", "", "event kind (default note)")
	flags.StringVar(&captureStatus, "status", "", "info, success, warning or failure (default info)")
	flags.StringVar(&captureSummary, "summary", "", "one-line summary")
	flags.StringVar(&captureSource, "source", "", "who recorded the event (default manual)")
	flags.StringVar(&captureTask, "task", "", "task the event belongs to")
	flags.StringSliceVar(&capturePaths, "path", nil, "related file path (repeatable)")
	flags.StringSliceVar(&captureSymbols, "symbol", nil, "related code symbol (repeatable)")
	flags.StringArrayVar(&captureCommands, "command", nil, "related shell command (repeatable, not comma split)")
	flags.StringSliceVar(&captureRefs, "ref", nil, "related reference such as a URL or PR (repeatable)")
	flags.StringVar(&capturePayloadJSON, "payload-json", "", "structured payload as a JSON object")
	flags.BoolVar(&captureBestEffort, "best-effort", false, "log and swallow errors, for hooks")
	rootCmd.AddCommand(captureCmd)
}
