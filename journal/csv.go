package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/positions"
)

// WriteEquityCSV writes points as time,balance rows with a header.
func WriteEquityCSV(w io.Writer, points []equity.Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "balance"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := cw.Write([]string{p.At.UTC().Format(time.RFC3339), f(p.Balance)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePositionsCSV writes one row per position, with MAE/MFE in points.
func WritePositionsCSV(w io.Writer, recs []positions.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"mode", "account", "symbol", "qty", "avg_entry", "state", "last_updated", "mae", "mfe"}); err != nil {
		return err
	}
	for _, r := range recs {
		mae, mfe := r.Excursion()
		if err := cw.Write([]string{
			string(r.Mode),
			r.Account,
			r.Symbol,
			f(r.Qty),
			f(r.AvgEntry),
			string(r.State),
			r.LastUpdated.UTC().Format(time.RFC3339),
			f(mae),
			f(mfe),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
