package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
)

var ErrNotFound = errors.New("journal: not found")

// GetPosition returns a single persisted position, flat or not.
func (j *SQLite) GetPosition(ctx context.Context, k positions.Key) (positions.Record, error) {
	var (
		rec         positions.Record
		mode, state string
	)

	row := j.db.QueryRowContext(ctx, `
		SELECT mode, account, symbol, qty, avg_entry, state, opened_at, closed_at, last_updated,
		       unrealized_pnl, realized_pnl, trade_min, trade_max
		FROM positions
		WHERE mode = ? AND account = ? AND symbol = ?`,
		string(k.Mode), k.Account, k.Symbol)

	err := row.Scan(
		&mode,
		&rec.Account,
		&rec.Symbol,
		&rec.Qty,
		&rec.AvgEntry,
		&state,
		&rec.OpenedAt,
		&rec.ClosedAt,
		&rec.LastUpdated,
		&rec.UnrealizedPnL,
		&rec.RealizedPnL,
		&rec.TradeMin,
		&rec.TradeMax,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return positions.Record{}, fmt.Errorf("position %s/%s: %w", k.Scope(), k.Symbol, ErrNotFound)
		}
		return positions.Record{}, err
	}
	rec.Mode = broker.Mode(mode)
	rec.State = positions.State(state)
	return rec, nil
}

// ListOrdersClosedBetween returns orders whose closed_at is within [start, end).
func (j *SQLite) ListOrdersClosedBetween(ctx context.Context, start, end time.Time) ([]orders.Record, error) {
	return j.queryOrders(ctx,
		`WHERE state = ? AND closed_at >= ? AND closed_at < ? ORDER BY closed_at ASC`,
		string(orders.Closed), start.UTC(), end.UTC())
}
