package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/dtcterm/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage dtcterm configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  dtcterm config init -o dtcterm.yaml
  dtcterm config validate -f dtcterm.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check that a configuration file loads and passes validation after the
.env and DTC_* environment overlay is applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "dtcterm.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file (credentials may also come from DTC_USERNAME/DTC_PASSWORD) and run with:")
	fmt.Fprintf(out, "  dtcterm run -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("validate: --config is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", configPath)
	fmt.Fprintf(out, "  Server: %s (mode %s)\n", cfg.Addr(), cfg.Mode())
	if cfg.Session.Account != "" {
		fmt.Fprintf(out, "  Account: %s\n", cfg.Session.Account)
	}
	fmt.Fprintf(out, "  Journal: %s\n", cfg.Journal.DBPath)
	if cfg.Server.Addr != "" {
		fmt.Fprintf(out, "  HTTP: %s\n", cfg.Server.Addr)
	}
	return nil
}
