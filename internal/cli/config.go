package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/continuity/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Inspect continuity configuration",
	Long: `Inspect the configuration stored in <memory-root>/config.yaml.

Available commands:
  show   - Show the effective configuration (defaults merged with the file)
  init   - Write the default configuration if none exists
  path   - Print the memory root and config file locations`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(a.cfg)
		}
		data, err := yaml.Marshal(a.cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		source := a.layout.ConfigPath
		if _, err := os.Stat(source); os.IsNotExist(err) {
			source += " (not present, defaults)"
		}
		fmt.Printf("# %s\n", source)
		fmt.Print(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if _, err := os.Stat(a.layout.ConfigPath); err == nil {
			return fmt.Errorf("config already exists: %s", a.layout.ConfigPath)
		}
		if err := os.MkdirAll(a.layout.MemoryRoot, 0755); err != nil {
			return fmt.Errorf("create memory root: %w", err)
		}
		if err := config.Save(a.layout.MemoryRoot, config.Default()); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]string{"config_file": a.layout.ConfigPath})
		}
		fmt.Printf("Wrote %s\n", a.layout.ConfigPath)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the memory root and config file locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]string{
				"repo_root":   a.repo.Root,
				"repo_id":     a.repo.ID,
				"memory_root": a.layout.MemoryRoot,
				"config_file": a.layout.ConfigPath,
				"events_file": a.layout.LedgerPath,
			})
		}
		fmt.Printf("repo:        %s\n", a.repo.Root)
		fmt.Printf("repo id:     %s\n", a.repo.ID)
		fmt.Printf("memory root: %s\n", a.layout.MemoryRoot)
		fmt.Printf("config:      %s\n", a.layout.ConfigPath)
		fmt.Printf("ledger:      %s\n", a.layout.LedgerPath)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
