package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/journal"
	"github.com/rustyeddy/dtcterm/positions"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List persisted open positions",
	Long: `List open positions from the journal, flagging those older than
recovery.max_age as stale. These are the positions the engine would restore
on its next start.

Examples:
  dtcterm positions
  dtcterm positions --csv > open.csv
  dtcterm positions get SIM Sim1 ESZ5
  dtcterm positions get SIM Sim1 ESZ5 --stop 4490.25`,
	Args: cobra.NoArgs,
	RunE: runPositions,
}

var positionsGetCmd = &cobra.Command{
	Use:   "get <mode> <account> <symbol>",
	Short: "Show one persisted position, flat or not",
	Args:  cobra.ExactArgs(3),
	RunE:  runPositionsGet,
}

var (
	positionsCSV bool
	positionStop float64
)

func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.AddCommand(positionsGetCmd)

	positionsCmd.Flags().BoolVar(&positionsCSV, "csv", false, "write CSV instead of a table")
	positionsGetCmd.Flags().Float64Var(&positionStop, "stop", 0, "initial stop price; prints excursions as R-multiples")
}

func runPositions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	recs, err := j.OpenPositions(context.Background())
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}

	out := cmd.OutOrStdout()
	if positionsCSV {
		return journal.WritePositionsCSV(out, recs)
	}
	printPositions(out, recs, cfg.Recovery.MaxAge.D(), time.Now())
	return nil
}

func runPositionsGet(cmd *cobra.Command, args []string) error {
	mode, err := broker.ParseMode(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	rec, err := j.GetPosition(context.Background(), positions.Key{Mode: mode, Account: args[1], Symbol: args[2]})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	mae, mfe := rec.Excursion()
	fmt.Fprintf(out, "%s %s\n", rec.Scope(), rec.Symbol)
	fmt.Fprintf(out, "  State: %s\n", rec.State)
	fmt.Fprintf(out, "  Qty: %g @ %.4f\n", rec.Qty, rec.AvgEntry)
	fmt.Fprintf(out, "  Range: %.4f - %.4f\n", rec.TradeMin, rec.TradeMax)
	if rec.State != positions.Closed {
		fmt.Fprintf(out, "  MAE/MFE: %.4f / %.4f (efficiency %.0f%%)\n", mae, mfe, positions.Efficiency(mae, mfe)*100)
		if positionStop > 0 {
			fmt.Fprintf(out, "  R: MAE %.2fR / MFE %.2fR\n",
				positions.RMultiple(mae, rec.AvgEntry, positionStop),
				positions.RMultiple(mfe, rec.AvgEntry, positionStop))
		}
	}
	fmt.Fprintf(out, "  Realized: %.2f\n", rec.RealizedPnL)
	fmt.Fprintf(out, "  Last update: %s\n", rec.LastUpdated.Local().Format(time.RFC3339))
	return nil
}

func printPositions(w io.Writer, recs []positions.Record, maxAge time.Duration, now time.Time) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No open positions.")
		return
	}
	fmt.Fprintf(w, "%-16s %-10s %10s %12s %10s %10s  %s\n", "SCOPE", "SYMBOL", "QTY", "ENTRY", "MAE", "MFE", "UPDATED")
	stale := 0
	for _, r := range recs {
		mae, mfe := r.Excursion()
		flag := ""
		if now.Sub(r.LastUpdated) > maxAge {
			flag = " (stale)"
			stale++
		}
		fmt.Fprintf(w, "%-16s %-10s %10g %12.4f %10.4f %10.4f  %s%s\n",
			r.Scope(), r.Symbol, r.Qty, r.AvgEntry, mae, mfe,
			r.LastUpdated.Local().Format("2006-01-02 15:04:05"), flag)
	}
	fmt.Fprintf(w, "\n%d open, %d stale (older than %s)\n", len(recs), stale, maxAge)
}
