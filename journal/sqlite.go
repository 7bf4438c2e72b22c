package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
)

type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) UpsertPosition(ctx context.Context, p positions.Record) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO positions
		(mode, account, symbol, qty, avg_entry, state, opened_at, closed_at, last_updated,
		 unrealized_pnl, realized_pnl, trade_min, trade_max)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mode, account, symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_entry = excluded.avg_entry,
			state = excluded.state,
			opened_at = excluded.opened_at,
			closed_at = excluded.closed_at,
			last_updated = excluded.last_updated,
			unrealized_pnl = excluded.unrealized_pnl,
			realized_pnl = excluded.realized_pnl,
			trade_min = excluded.trade_min,
			trade_max = excluded.trade_max`,
		string(p.Mode), p.Account, p.Symbol, p.Qty, p.AvgEntry, string(p.State),
		p.OpenedAt.UTC(), p.ClosedAt.UTC(), p.LastUpdated.UTC(),
		p.UnrealizedPnL, p.RealizedPnL, p.TradeMin, p.TradeMax,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", p.Scope(), p.Symbol, err)
	}
	return nil
}

func (j *SQLite) OpenPositions(ctx context.Context) ([]positions.Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT mode, account, symbol, qty, avg_entry, state, opened_at, closed_at, last_updated,
		       unrealized_pnl, realized_pnl, trade_min, trade_max
		FROM positions
		WHERE qty != 0
		ORDER BY mode, account, symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []positions.Record
	for rows.Next() {
		var (
			rec         positions.Record
			mode, state string
		)
		if err := rows.Scan(
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
		); err != nil {
			return nil, err
		}
		rec.Mode = broker.Mode(mode)
		rec.State = positions.State(state)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) UpsertOrder(ctx context.Context, o orders.Record) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// A server id assigned after submission re-keys the row.
	if o.ClientOrderID != "" {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM orders WHERE client_order_id = ? AND order_key != ?`,
			o.ClientOrderID, o.Key()); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders
		(order_key, server_order_id, client_order_id, symbol, side, qty, filled_qty, price,
		 avg_fill_price, state, mode, account, submitted_at, filled_at, closed_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_key) DO UPDATE SET
			server_order_id = excluded.server_order_id,
			client_order_id = excluded.client_order_id,
			symbol = excluded.symbol,
			side = excluded.side,
			qty = excluded.qty,
			filled_qty = excluded.filled_qty,
			price = excluded.price,
			avg_fill_price = excluded.avg_fill_price,
			state = excluded.state,
			mode = excluded.mode,
			account = excluded.account,
			submitted_at = excluded.submitted_at,
			filled_at = excluded.filled_at,
			closed_at = excluded.closed_at,
			last_updated = excluded.last_updated`,
		o.Key(), o.ServerOrderID, o.ClientOrderID, o.Symbol, string(o.Side),
		o.Qty, o.FilledQty, o.Price, o.AvgFillPrice, string(o.State),
		string(o.Mode), o.Account,
		o.SubmittedAt.UTC(), o.FilledAt.UTC(), o.ClosedAt.UTC(), o.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.Key(), err)
	}
	return tx.Commit()
}

func (j *SQLite) OpenOrders(ctx context.Context) ([]orders.Record, error) {
	return j.queryOrders(ctx, `WHERE state != ? ORDER BY submitted_at ASC`, string(orders.Closed))
}

const orderColumns = `server_order_id, client_order_id, symbol, side, qty, filled_qty, price,
	avg_fill_price, state, mode, account, submitted_at, filled_at, closed_at, last_updated`

func (j *SQLite) queryOrders(ctx context.Context, where string, args ...any) ([]orders.Record, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Record
	for rows.Next() {
		var (
			rec               orders.Record
			side, state, mode string
		)
		if err := rows.Scan(
			&rec.ServerOrderID,
			&rec.ClientOrderID,
			&rec.Symbol,
			&side,
			&rec.Qty,
			&rec.FilledQty,
			&rec.Price,
			&rec.AvgFillPrice,
			&state,
			&mode,
			&rec.Account,
			&rec.SubmittedAt,
			&rec.FilledAt,
			&rec.ClosedAt,
			&rec.LastUpdated,
		); err != nil {
			return nil, err
		}
		rec.Side = broker.Side(side)
		rec.State = orders.State(state)
		rec.Mode = broker.Mode(mode)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) RecordEquity(ctx context.Context, scope broker.Scope, points []equity.Point) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO equity (mode, account, time, balance) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, string(scope.Mode), scope.Account, p.At.UTC(), p.Balance); err != nil {
			return fmt.Errorf("record equity %s: %w", scope, err)
		}
	}
	return tx.Commit()
}

func (j *SQLite) LoadEquity(ctx context.Context, scope broker.Scope, since time.Time) ([]equity.Point, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT time, balance
		FROM equity
		WHERE mode = ? AND account = ? AND time >= ?
		ORDER BY time ASC`, string(scope.Mode), scope.Account, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []equity.Point
	for rows.Next() {
		var p equity.Point
		if err := rows.Scan(&p.At, &p.Balance); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) EquityScopes(ctx context.Context) ([]broker.Scope, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT DISTINCT mode, account FROM equity ORDER BY mode, account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.Scope
	for rows.Next() {
		var mode, account string
		if err := rows.Scan(&mode, &account); err != nil {
			return nil, err
		}
		out = append(out, broker.Scope{Mode: broker.Mode(mode), Account: account})
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
