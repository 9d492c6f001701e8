package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jvs-project/continuity/pkg/color"
	"github.com/jvs-project/continuity/pkg/config"
)

var initWriteConfig bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the memory root for the current repository",
	Long: `Initialize the memory root for the current repository.

Creates the directory skeleton, an empty event ledger and the branch
graph (main with no head). Existing artifacts are left untouched.

Examples:
  continuity init
  continuity init --memory-root ./.memory --write-config`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if err := a.layout.Bootstrap(); err != nil {
			return err
		}

		wroteConfig := false
		if initWriteConfig {
			if _, err := os.Stat(a.layout.ConfigPath); os.IsNotExist(err) {
				if err := config.Save(a.layout.MemoryRoot, a.cfg); err != nil {
					return err
				}
				wroteConfig = true
			}
		}

		mgr, err := a.refs()
		if err != nil {
			return err
		}
		status, err := mgr.Init()
		if err != nil {
			return fmt.Errorf("init refs: %w", err)
		}

		if jsonOutput {
			return outputJSON(map[string]any{
				"repo_root":    a.repo.Root,
				"repo_id":      a.repo.ID,
				"memory_root":  a.layout.MemoryRoot,
				"events_file":  a.layout.LedgerPath,
				"config_file":  a.layout.ConfigPath,
				"wrote_config": wroteConfig,
				"refs":         status,
			})
		}
		fmt.Printf("%s memory root %s\n", color.Success("Initialized"), a.layout.MemoryRoot)
		fmt.Printf("  repo:    %s (%s)\n", a.repo.Root, a.repo.ID)
		fmt.Printf("  ledger:  %s\n", a.layout.LedgerPath)
		fmt.Printf("  branch:  %s\n", color.Branch(status.ActiveBranch))
		if wroteConfig {
			fmt.Printf("  config:  %s\n", a.layout.ConfigPath)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initWriteConfig, "write-config", false, "write the default config.yaml if none exists")
	rootCmd.AddCommand(initCmd)
}
