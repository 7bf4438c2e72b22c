package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/dtcterm/config"
)

var rootCmd = &cobra.Command{
	Use:   "dtcterm",
	Short: "Live-state engine for a DTC trading terminal",
	Long: `dtcterm connects to a DTC protocol server, keeps a reconciled view of
orders, positions and account equity, and persists that view so it survives
restarts.

It provides tools for:
  - Running the live engine with an optional HTTP/websocket surface
  - Inspecting persisted positions (with staleness) and orders
  - Reviewing equity curves and PnL per timeframe
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

var (
	configPath string
	envFile    string
	dbOverride string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "", "path to config file (YAML or JSON); defaults are used when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file overlaid before DTC_* variables are read")
	rootCmd.PersistentFlags().StringVarP(&dbOverride, "db", "d", "", "path to SQLite journal DB (overrides journal.db_path)")
}

// loadConfig resolves file, .env and flag settings in that order.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if dbOverride != "" {
		cfg.Journal.DBPath = dbOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
