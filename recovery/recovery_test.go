package recovery

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/journal"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
)

var now = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func pos(account, symbol string, qty float64, age time.Duration) positions.Record {
	return positions.Record{
		Key:         positions.Key{Mode: broker.ModeSim, Account: account, Symbol: symbol},
		Qty:         qty,
		AvgEntry:    100,
		State:       positions.Open,
		LastUpdated: now.Add(-age),
	}
}

func newCoordinator(src Source, pb *positions.Book, ob *orders.Book, eq *equity.Store) *Coordinator {
	c := New(src, pb, ob, eq, 0, quietLogger())
	c.now = func() time.Time { return now }
	return c
}

func TestRecoverFreshAndStale(t *testing.T) {
	t.Parallel()

	mem := journal.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.UpsertPosition(ctx, pos("Sim1", "ESZ5", 2, time.Hour)))
	require.NoError(t, mem.UpsertPosition(ctx, pos("Sim1", "NQZ5", -1, 30*time.Hour)))
	require.NoError(t, mem.UpsertPosition(ctx, pos("Sim2", "CLZ5", 3, 5*time.Minute)))

	pb := positions.NewBook()
	c := newCoordinator(mem, pb, nil, nil)

	sum, err := c.Run(ctx)
	require.NoError(t, err)
	assert.NoError(t, sum.Err)
	assert.Equal(t, 3, sum.Recovered)
	assert.Equal(t, 1, sum.Stale)
	require.Len(t, sum.StaleKeys, 1)
	assert.Equal(t, "NQZ5", sum.StaleKeys[0].Symbol)

	open := pb.OpenPositions()
	require.Len(t, open, 3)
	for _, r := range open {
		assert.True(t, r.Recovered)
		assert.Equal(t, r.Symbol == "NQZ5", r.Stale, r.Symbol)
	}

	_, err = c.Run(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRan)
}

type brokenSource struct{ *journal.Memory }

func (brokenSource) OpenPositions(context.Context) ([]positions.Record, error) {
	return nil, errors.New("database is locked")
}

func TestRecoverPersistenceErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	mem := journal.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.UpsertOrder(ctx, orders.Record{ServerOrderID: "9", Symbol: "ESZ5", State: orders.Working}))

	pb := positions.NewBook()
	ob := orders.NewBook()
	c := newCoordinator(brokenSource{mem}, pb, ob, nil)

	sum, err := c.Run(ctx)
	require.NoError(t, err)
	require.Error(t, sum.Err)
	assert.Contains(t, sum.Err.Error(), "database is locked")
	assert.Zero(t, sum.Recovered)
	assert.Empty(t, pb.Snapshot())
	assert.Equal(t, 1, sum.OrdersRecovered, "other recovery still runs")
}

func TestRecoverOrdersAndEquity(t *testing.T) {
	t.Parallel()

	mem := journal.NewMemory()
	ctx := context.Background()
	sim := broker.Scope{Mode: broker.ModeSim, Account: "Sim1"}

	require.NoError(t, mem.UpsertOrder(ctx, orders.Record{ServerOrderID: "1", Symbol: "ESZ5", Side: broker.Buy, State: orders.Working}))
	require.NoError(t, mem.UpsertOrder(ctx, orders.Record{ServerOrderID: "2", Symbol: "ESZ5", Side: broker.Sell, State: orders.Closed}))
	require.NoError(t, mem.RecordEquity(ctx, sim, []equity.Point{
		{At: now.AddDate(-1, 0, 0), Balance: 1},
		{At: now.Add(-2 * time.Hour), Balance: 2},
		{At: now.Add(-time.Hour), Balance: 3},
	}))

	ob := orders.NewBook()
	eq := equity.NewStore(100, time.Second)
	c := newCoordinator(mem, positions.NewBook(), ob, eq)

	sum, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OrdersRecovered)
	assert.Equal(t, 1, ob.Len())
	assert.Equal(t, 2, sum.EquityPoints, "history older than the longest window is skipped")

	ps := eq.Points(sim)
	require.Len(t, ps, 2)
	assert.Equal(t, 2.0, ps[0].Balance)
	assert.Zero(t, eq.Pending())
}

func TestEquitySince(t *testing.T) {
	t.Parallel()

	// Early in the year 90 days reaches further back than Jan 1.
	feb := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, feb.AddDate(0, 0, -90), equitySince(feb))

	// Late in the year YTD is the longer window.
	oct := time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), equitySince(oct))
}
