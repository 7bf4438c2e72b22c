package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/dtcterm/journal"
	"github.com/rustyeddy/dtcterm/orders"
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Query persisted orders",
	Long: `Query order records from the SQLite journal.

Subcommands:
  open   - List orders not yet closed
  today  - List orders closed today
  day    - List orders closed on a specific day

Examples:
  dtcterm orders open
  dtcterm orders day 2025-03-10`,
}

var ordersOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "List orders not yet closed",
	Args:  cobra.NoArgs,
	RunE:  runOrdersOpen,
}

var ordersTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List orders closed today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrdersClosed(cmd, time.Now().In(time.Local).Format("2006-01-02"))
	},
}

var ordersDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List orders closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrdersClosed(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(ordersCmd)
	ordersCmd.AddCommand(ordersOpenCmd)
	ordersCmd.AddCommand(ordersTodayCmd)
	ordersCmd.AddCommand(ordersDayCmd)
}

func openJournal() (*journal.SQLite, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	j, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runOrdersOpen(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.OpenOrders(context.Background())
	if err != nil {
		return fmt.Errorf("query orders: %w", err)
	}
	printOrders(cmd.OutOrStdout(), recs)
	return nil
}

func runOrdersClosed(cmd *cobra.Command, day string) error {
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.ListOrdersClosedBetween(context.Background(), start, end)
	if err != nil {
		return fmt.Errorf("query orders: %w", err)
	}
	printOrders(cmd.OutOrStdout(), recs)
	return nil
}

func printOrders(w io.Writer, recs []orders.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No orders.")
		return
	}
	fmt.Fprintf(w, "%-20s %-16s %-10s %-4s %8s %8s %12s  %s\n", "ORDER", "SCOPE", "SYMBOL", "SIDE", "QTY", "FILLED", "PRICE", "STATE")
	for _, r := range recs {
		price := r.Price
		if r.AvgFillPrice != 0 {
			price = r.AvgFillPrice
		}
		fmt.Fprintf(w, "%-20s %-16s %-10s %-4s %8g %8g %12.4f  %s\n",
			r.Key(), r.Scope(), r.Symbol, r.Side, r.Qty, r.FilledQty, price, r.State)
	}
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
