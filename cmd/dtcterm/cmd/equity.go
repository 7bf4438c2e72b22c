package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/journal"
)

var equityCmd = &cobra.Command{
	Use:   "equity",
	Short: "Show the persisted equity curve and PnL for a timeframe",
	Long: `Show account equity from the journal for one (mode, account) scope.

Timeframes: LIVE, 1D, 1W, 1M, 3M, YTD.

Examples:
  dtcterm equity --mode SIM --account Sim1 --tf 1W
  dtcterm equity --mode LIVE --account 120005 --tf YTD --csv > ytd.csv
  dtcterm equity scopes`,
	Args: cobra.NoArgs,
	RunE: runEquity,
}

var equityScopesCmd = &cobra.Command{
	Use:   "scopes",
	Short: "List scopes with persisted equity",
	Args:  cobra.NoArgs,
	RunE:  runEquityScopes,
}

var (
	equityMode    string
	equityAccount string
	equityTF      string
	equityCSV     bool
)

func init() {
	rootCmd.AddCommand(equityCmd)
	equityCmd.AddCommand(equityScopesCmd)

	equityCmd.Flags().StringVarP(&equityMode, "mode", "m", "LIVE", "trading mode (DEBUG, SIM, LIVE)")
	equityCmd.Flags().StringVarP(&equityAccount, "account", "a", "", "trade account (required)")
	equityCmd.Flags().StringVarP(&equityTF, "tf", "t", "1D", "timeframe")
	equityCmd.Flags().BoolVar(&equityCSV, "csv", false, "write the windowed points as CSV")
	equityCmd.MarkFlagRequired("account")
}

func runEquity(cmd *cobra.Command, args []string) error {
	mode, err := broker.ParseMode(equityMode)
	if err != nil {
		return err
	}
	tf, err := equity.ParseTimeframe(equityTF)
	if err != nil {
		return err
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	scope := broker.Scope{Mode: mode, Account: equityAccount}
	now := time.Now()
	// The PnL baseline may precede the window, so load the whole history.
	points, err := j.LoadEquity(context.Background(), scope, time.Time{})
	if err != nil {
		return fmt.Errorf("load equity: %w", err)
	}

	window := equity.Filter(points, tf, now)
	out := cmd.OutOrStdout()
	if equityCSV {
		return journal.WriteEquityCSV(out, window)
	}
	pnl, ok := equity.Compute(points, tf, now)
	printEquity(out, scope, tf, window, pnl, ok)
	return nil
}

func printEquity(w io.Writer, scope broker.Scope, tf equity.Timeframe, window []equity.Point, pnl equity.PnL, ok bool) {
	fmt.Fprintf(w, "%s %s: %d points\n", scope, tf, len(window))
	if !ok {
		fmt.Fprintln(w, "  No equity recorded.")
		return
	}
	fmt.Fprintf(w, "  Baseline: %.2f at %s\n", pnl.Baseline.Balance, pnl.Baseline.At.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "  Current:  %.2f at %s\n", pnl.Current.Balance, pnl.Current.At.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "  PnL:      %+.2f (%+.2f%%) %s\n", pnl.Amount, pnl.Percent, pnl.Direction)
}

func runEquityScopes(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	scopes, err := j.EquityScopes(context.Background())
	if err != nil {
		return fmt.Errorf("query scopes: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(scopes) == 0 {
		fmt.Fprintln(out, "No equity recorded.")
		return nil
	}
	for _, s := range scopes {
		fmt.Fprintln(out, s)
	}
	return nil
}
