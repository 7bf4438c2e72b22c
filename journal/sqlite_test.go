package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

var (
	ctx   = context.Background()
	sim   = broker.Scope{Mode: broker.ModeSim, Account: "Sim1"}
	t0    = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	esKey = positions.Key{Mode: broker.ModeSim, Account: "Sim1", Symbol: "ESZ5"}
)

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["positions"])
	assert.True(t, found["orders"])
	assert.True(t, found["equity"])
}

func TestSQLitePositionsRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)

	es := positions.Record{
		Key:         esKey,
		Qty:         2,
		AvgEntry:    4500.25,
		State:       positions.Open,
		OpenedAt:    t0,
		LastUpdated: t0.Add(time.Minute),
		TradeMin:    4498,
		TradeMax:    4510,
	}
	nq := positions.Record{
		Key:         positions.Key{Mode: broker.ModeSim, Account: "Sim1", Symbol: "NQZ5"},
		Qty:         0,
		State:       positions.Closed,
		LastUpdated: t0,
	}
	require.NoError(t, j.UpsertPosition(ctx, es))
	require.NoError(t, j.UpsertPosition(ctx, nq))

	open, err := j.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	got := open[0]
	assert.Equal(t, esKey, got.Key)
	assert.Equal(t, 2.0, got.Qty)
	assert.Equal(t, 4500.25, got.AvgEntry)
	assert.Equal(t, positions.Open, got.State)
	assert.True(t, got.LastUpdated.Equal(es.LastUpdated))
	assert.True(t, got.ClosedAt.IsZero())
	assert.Equal(t, 4510.0, got.TradeMax)

	// Closing the position removes it from the open set.
	es.Qty = 0
	es.State = positions.Closed
	es.ClosedAt = t0.Add(time.Hour)
	require.NoError(t, j.UpsertPosition(ctx, es))

	open, err = j.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	rec, err := j.GetPosition(ctx, esKey)
	require.NoError(t, err)
	assert.Equal(t, positions.Closed, rec.State)
	assert.True(t, rec.ClosedAt.Equal(t0.Add(time.Hour)))

	_, err = j.GetPosition(ctx, positions.Key{Mode: broker.ModeLive, Account: "x", Symbol: "CLZ5"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteOrdersRekey(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)

	o := orders.Record{
		ClientOrderID: "c-1",
		Symbol:        "ESZ5",
		Side:          broker.Buy,
		Qty:           2,
		State:         orders.Pending,
		Mode:          broker.ModeSim,
		Account:       "Sim1",
		SubmittedAt:   t0,
		LastUpdated:   t0,
	}
	require.NoError(t, j.UpsertOrder(ctx, o))

	o.ServerOrderID = "S-77"
	o.State = orders.Working
	require.NoError(t, j.UpsertOrder(ctx, o))

	open, err := j.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1, "client-keyed row replaced by server-keyed row")
	assert.Equal(t, "S-77", open[0].ServerOrderID)
	assert.Equal(t, orders.Working, open[0].State)
	assert.Equal(t, broker.Buy, open[0].Side)

	o.State = orders.Closed
	o.FilledQty = 2
	o.ClosedAt = t0.Add(time.Minute)
	require.NoError(t, j.UpsertOrder(ctx, o))

	open, err = j.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	closed, err := j.ListOrdersClosedBetween(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 2.0, closed[0].FilledQty)

	closed, err = j.ListOrdersClosedBetween(ctx, t0.Add(time.Hour), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, closed)
}

func TestSQLiteEquity(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	live := broker.Scope{Mode: broker.ModeLive, Account: "120005"}

	require.NoError(t, j.RecordEquity(ctx, sim, []equity.Point{
		{At: t0, Balance: 100},
		{At: t0.Add(time.Minute), Balance: 101},
	}))
	require.NoError(t, j.RecordEquity(ctx, sim, []equity.Point{
		{At: t0.Add(2 * time.Minute), Balance: 102},
	}))
	require.NoError(t, j.RecordEquity(ctx, live, []equity.Point{{At: t0, Balance: 5}}))
	require.NoError(t, j.RecordEquity(ctx, live, nil))

	ps, err := j.LoadEquity(ctx, sim, time.Time{})
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, []float64{100, 101, 102}, []float64{ps[0].Balance, ps[1].Balance, ps[2].Balance})
	assert.True(t, ps[0].At.Equal(t0))

	ps, err = j.LoadEquity(ctx, sim, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, ps, 2)

	scopes, err := j.EquityScopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []broker.Scope{live, sim}, scopes)
}
