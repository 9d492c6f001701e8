package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/internal/doctor"
	"github.com/jvs-project/continuity/pkg/color"
)

var (
	doctorStrict   bool
	doctorCleanTmp bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check memory root health",
	Long: `Check the memory root layout, the branch graph, the last automation
cycle and leftover temporary files. With --strict the ledger hash chain and
every commit's parents are verified too.

Exit status is 1 when an error or critical finding was reported.

Examples:
  continuity doctor
  continuity doctor --strict --clean-tmp`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		d := doctor.NewDoctor(a.layout, a.cfg, a.log)
		result, err := d.Check(doctorStrict)
		if err != nil {
			return err
		}

		var removed []string
		if doctorCleanTmp {
			if removed, err = d.CleanTmp(); err != nil {
				return err
			}
		}

		if jsonOutput {
			if err := outputJSON(map[string]any{
				"healthy":     result.Healthy,
				"findings":    result.Findings,
				"tmp_removed": removed,
			}); err != nil {
				return err
			}
		} else {
			printFindings(result)
			for _, path := range removed {
				fmt.Printf("Removed %s\n", path)
			}
		}

		if !result.Healthy {
			return &exitError{code: 1}
		}
		return nil
	},
}

func printFindings(result *doctor.Result) {
	for _, f := range result.Findings {
		label := f.Severity
		switch f.Severity {
		case doctor.SeverityError, doctor.SeverityCritical:
			label = color.Error(f.Severity)
		case doctor.SeverityWarning:
			label = color.Warning(f.Severity)
		}
		fmt.Printf("[%s] %s: %s\n", label, f.Category, f.Description)
	}
	if result.Healthy {
		fmt.Printf("%s memory root healthy (%d findings)\n", color.Success("OK"), len(result.Findings))
	} else {
		fmt.Printf("%s memory root unhealthy (%d findings)\n", color.Error("FAILED"), len(result.Findings))
	}
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "also verify the ledger and commit parents")
	doctorCmd.Flags().BoolVar(&doctorCleanTmp, "clean-tmp", false, "remove orphan temporary files")
	rootCmd.AddCommand(doctorCmd)
}
