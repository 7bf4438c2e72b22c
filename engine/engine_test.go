package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/dtc"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/health"
	"github.com/rustyeddy/dtcterm/internal/logging"
	"github.com/rustyeddy/dtcterm/journal"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
	"github.com/rustyeddy/dtcterm/session"
)

var (
	t0  = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	sim = broker.Scope{Mode: broker.ModeSim, Account: "Sim1"}
)

type recorder struct {
	positions []positions.Record
	orders    []orders.Record
	equity    []equity.Batch
}

func (r *recorder) SavePosition(p positions.Record) bool {
	r.positions = append(r.positions, p)
	return true
}

func (r *recorder) SaveOrder(o orders.Record) bool {
	r.orders = append(r.orders, o)
	return true
}

func (r *recorder) SaveEquity(s broker.Scope, ps []equity.Point) bool {
	r.equity = append(r.equity, equity.Batch{Scope: s, Points: ps})
	return true
}

func newEngine(t *testing.T, cfg Config) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := New(cfg, rec, logging.Discard())
	e.now = func() time.Time { return t0 }
	return e, rec
}

func msg(m dtc.Message, at time.Time) session.Event {
	return session.Event{Msg: m, At: at}
}

func drain(e *Engine) []Event {
	var out []Event
	for {
		select {
		case ev := <-e.out:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofKind(evs []Event, k Kind) []Event {
	var out []Event
	for _, ev := range evs {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func TestOrderFillPublishesPreCollapseState(t *testing.T) {
	t.Parallel()

	e, rec := newEngine(t, Config{})

	e.Handle(msg(&dtc.OrderUpdate{
		ServerOrderID: "S1", ClientOrderID: "C1", Symbol: "ESZ5", BuySell: 1,
		OrderQuantity: 2, OrderStatus: orders.StatusOpen, Price1: 4500, TradeAccount: "Sim1",
	}, t0))
	e.Handle(msg(&dtc.OrderUpdate{
		ServerOrderID: "S1", OrderStatus: orders.StatusFilled, FilledQuantity: 2, AverageFillPrice: 4500.25,
	}, t0.Add(time.Second)))
	// Late duplicate after terminal collapse is ignored.
	e.Handle(msg(&dtc.OrderUpdate{ServerOrderID: "S1", OrderStatus: orders.StatusOpen}, t0.Add(2*time.Second)))

	evs := ofKind(drain(e), KindOrder)
	require.Len(t, evs, 2)
	assert.Equal(t, orders.Pending, evs[0].Order.Old)
	assert.Equal(t, orders.Working, evs[0].Order.New)
	assert.Equal(t, broker.ModeSim, evs[0].Order.Record.Mode)
	assert.Equal(t, broker.Buy, evs[0].Order.Record.Side)

	fill := evs[1].Order
	assert.Equal(t, orders.Filled, fill.New)
	assert.Equal(t, orders.Closed, fill.Record.State)
	assert.Equal(t, t0.Add(time.Second), fill.Record.ClosedAt)
	assert.Len(t, evs[1].ID, 26)

	assert.Len(t, rec.orders, 2)
}

func TestUnusableOrderIsDropped(t *testing.T) {
	t.Parallel()

	e, rec := newEngine(t, Config{})
	e.Handle(msg(&dtc.OrderUpdate{ServerOrderID: "S9", OrderStatus: orders.StatusOpen}, t0))

	assert.Empty(t, ofKind(drain(e), KindOrder))
	assert.Empty(t, rec.orders)
	assert.Zero(t, e.orders.Len())
}

func TestPositionLifecycleAndExcursion(t *testing.T) {
	t.Parallel()

	e, rec := newEngine(t, Config{})
	e.Handle(msg(&dtc.PositionUpdate{Symbol: "ESZ5", TradeAccount: "Sim1", Quantity: 1, AveragePrice: 100}, t0))
	e.Handle(msg(&dtc.PositionUpdate{
		Symbol: "ESZ5", TradeAccount: "Sim1", Quantity: 2, AveragePrice: 100,
		HighPriceDuringPosition: 105, LowPriceDuringPosition: 98,
	}, t0.Add(time.Minute)))
	e.Handle(msg(&dtc.PositionUpdate{Symbol: "ESZ5", TradeAccount: "Sim1", Quantity: 0}, t0.Add(2*time.Minute)))
	e.Handle(msg(&dtc.PositionUpdate{TradeAccount: "Sim1", Quantity: 1}, t0.Add(3*time.Minute)))

	evs := ofKind(drain(e), KindPosition)
	require.Len(t, evs, 3)

	assert.Equal(t, positions.Closed, evs[0].Position.Old)
	assert.Equal(t, positions.Open, evs[0].Position.New)

	add := evs[1].Position
	assert.Equal(t, positions.Open, add.New)
	assert.InDelta(t, -2.0, add.MAE, 1e-12)
	assert.InDelta(t, 5.0, add.MFE, 1e-12)
	assert.InDelta(t, 5.0/7.0, add.Efficiency, 1e-12)

	closed := evs[2].Position
	assert.Equal(t, positions.Closed, closed.New)
	assert.Equal(t, 0.0, closed.Record.Qty)
	assert.Equal(t, sim, closed.Record.Scope())

	assert.Len(t, rec.positions, 3, "update without symbol dropped")
}

func TestHealthFollowsHeartbeatsAndDisconnects(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, Config{})
	e.Handle(session.Event{State: session.Ready, At: t0})
	e.Handle(msg(&dtc.Heartbeat{}, t0))
	e.Tick(t0.Add(time.Second))
	e.Tick(t0.Add(6 * time.Second))
	e.Handle(session.Event{State: session.Reconnecting, At: t0.Add(7 * time.Second)})

	evs := ofKind(drain(e), KindHealth)
	require.Len(t, evs, 3)
	assert.Equal(t, health.Green, evs[0].Health.Outer)
	assert.Equal(t, health.Green, evs[0].Health.Inner)
	assert.Equal(t, health.Yellow, evs[1].Health.Outer)
	assert.Equal(t, health.Yellow, evs[1].Health.Inner)
	assert.Equal(t, health.Red, evs[2].Health.Outer)
	assert.Equal(t, health.Red, evs[2].Health.Inner)
	assert.True(t, evs[2].Health.LastHeartbeat.IsZero())
}

func TestDataWithoutHeartbeat(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, Config{})
	e.Handle(msg(&dtc.Unknown{Type: 104}, t0))
	e.Tick(t0.Add(time.Second))

	evs := ofKind(drain(e), KindHealth)
	require.Len(t, evs, 1)
	assert.Equal(t, health.Red, evs[0].Health.Outer)
	assert.Equal(t, health.Green, evs[0].Health.Inner)
}

func TestBalanceUpdatesFeedEquity(t *testing.T) {
	t.Parallel()

	e, rec := newEngine(t, Config{FlushInterval: 10 * time.Second})
	e.Tick(t0)
	e.Handle(msg(&dtc.AccountBalanceUpdate{CashBalance: 10000, TradeAccount: "Sim1"}, t0))
	e.Handle(msg(&dtc.AccountBalanceUpdate{Header: dtc.Header{Type: dtc.KindAccountBalanceUpdateAlt}, CashBalance: 10050, TradeAccount: "Sim1"}, t0.Add(time.Minute)))
	e.Handle(msg(&dtc.AccountBalanceUpdate{CashBalance: 1, TradeAccount: "Sim1"}, t0.Add(30*time.Second)))
	e.Handle(msg(&dtc.AccountBalanceUpdate{NoAccountBalances: 1}, t0.Add(2*time.Minute)))

	evs := ofKind(drain(e), KindEquity)
	require.Len(t, evs, 2, "out-of-order point rejected")
	assert.Equal(t, sim, evs[0].Equity.Scope)
	assert.Equal(t, 10050.0, evs[1].Equity.Point.Balance)

	assert.Empty(t, rec.equity, "flush is interval gated")
	e.now = func() time.Time { return t0.Add(10 * time.Second) }
	e.Tick(t0.Add(10 * time.Second))
	require.Len(t, rec.equity, 1)
	assert.Len(t, rec.equity[0].Points, 2)
}

func TestLiveAccountMode(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, Config{DefaultMode: broker.ModeLive})
	e.Handle(msg(&dtc.AccountBalanceUpdate{CashBalance: 5, TradeAccount: "120005"}, t0))

	evs := ofKind(drain(e), KindEquity)
	require.Len(t, evs, 1)
	assert.Equal(t, broker.Scope{Mode: broker.ModeLive, Account: "120005"}, evs[0].Equity.Scope)
}

func seededEngine(t *testing.T) (*Engine, *recorder) {
	t.Helper()
	ctx := context.Background()
	mem := journal.NewMemory()
	for _, sym := range []string{"ESZ5", "NQZ5"} {
		require.NoError(t, mem.UpsertPosition(ctx, positions.Record{
			Key:         positions.Key{Mode: broker.ModeSim, Account: "Sim1", Symbol: sym},
			Qty:         1,
			AvgEntry:    100,
			State:       positions.Open,
			LastUpdated: t0.Add(-time.Hour),
		}))
	}

	e, rec := newEngine(t, Config{})
	sum, err := e.Recover(ctx, mem, 0, logging.Discard())
	require.NoError(t, err)
	require.Equal(t, 2, sum.Recovered)
	require.Len(t, ofKind(drain(e), KindPosition), 2, "recovered positions are published")
	return e, rec
}

func TestSnapshotReconcilesRecoveredPositions(t *testing.T) {
	t.Parallel()

	e, rec := seededEngine(t)

	ev := msg(&dtc.PositionUpdate{
		RequestID: 2, TotalNumberMessages: 1, MessageNumber: 1,
		Symbol: "ESZ5", TradeAccount: "Sim1", Quantity: 1, AveragePrice: 100,
	}, t0)
	ev.Solicited = true
	e.Handle(ev)

	evs := ofKind(drain(e), KindPosition)
	require.Len(t, evs, 2)
	assert.Equal(t, "ESZ5", evs[0].Position.Record.Symbol, "confirmation published")
	assert.False(t, evs[0].Position.Record.Recovered)
	assert.Equal(t, "NQZ5", evs[1].Position.Record.Symbol)
	assert.Equal(t, positions.Closed, evs[1].Position.New)

	open := e.positions.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "ESZ5", open[0].Symbol)
	assert.Len(t, rec.positions, 2)
}

func TestEmptySnapshotClosesRecovered(t *testing.T) {
	t.Parallel()

	e, _ := seededEngine(t)

	ev := msg(&dtc.PositionUpdate{RequestID: 2, NoPositions: 1}, t0)
	ev.Solicited = true
	e.Handle(ev)

	assert.Len(t, ofKind(drain(e), KindPosition), 2)
	assert.Empty(t, e.positions.OpenPositions())
}

func TestUnsolicitedSnapshotDoesNotReconcile(t *testing.T) {
	t.Parallel()

	e, _ := seededEngine(t)
	e.Handle(msg(&dtc.PositionUpdate{NoPositions: 1, TradeAccount: "Sim1"}, t0))
	assert.Len(t, e.positions.OpenPositions(), 2)
}

func TestReconnectKeepsBooks(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, Config{})
	e.Handle(msg(&dtc.PositionUpdate{Symbol: "ESZ5", TradeAccount: "Sim1", Quantity: 1, AveragePrice: 100}, t0))
	e.Handle(session.Event{State: session.Reconnecting, At: t0})
	e.Handle(session.Event{State: session.Ready, At: t0.Add(time.Second)})
	assert.Len(t, e.positions.OpenPositions(), 1)

	evs := ofKind(drain(e), KindSession)
	require.Len(t, evs, 2)
	assert.Equal(t, session.Reconnecting, evs[0].Session.State)
}

func TestFatalIsPublished(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, Config{})
	e.Handle(session.Event{Fatal: true, Err: session.ErrGaveUp, At: t0})

	evs := ofKind(drain(e), KindFatal)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Error, "giving up")
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, Config{PublishBuffer: 1})
	for i := 0; i < 5; i++ {
		e.Handle(msg(&dtc.AccountBalanceUpdate{CashBalance: float64(i), TradeAccount: "Sim1"}, t0.Add(time.Duration(i)*time.Second)))
	}
	evs := drain(e)
	require.Len(t, evs, 1)
	assert.Equal(t, 0.0, evs[0].Equity.Point.Balance)
	assert.Len(t, e.equity.Points(sim), 5, "state still updated")
}

func TestRunQueriesAndShutdownFlush(t *testing.T) {
	t.Parallel()

	e, rec := newEngine(t, Config{TickInterval: time.Hour})
	src := make(chan session.Event, 8)
	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background(), src) }()

	src <- msg(&dtc.PositionUpdate{Symbol: "ESZ5", TradeAccount: "Sim1", Quantity: -2, AveragePrice: 4500}, t0)
	src <- msg(&dtc.OrderUpdate{ServerOrderID: "1", Symbol: "ESZ5", BuySell: 2, OrderQuantity: 2, TradeAccount: "Sim1"}, t0)
	src <- msg(&dtc.AccountBalanceUpdate{CashBalance: 10000, TradeAccount: "Sim1"}, t0.Add(-30*time.Minute))
	src <- msg(&dtc.AccountBalanceUpdate{CashBalance: 10100, TradeAccount: "Sim1"}, t0)
	src <- msg(&dtc.TradeAccountResponse{TradeAccount: "Sim1"}, t0)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ps, err := e.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, -2.0, ps[0].Qty)

	ords, err := e.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, ords, 1)
	assert.Equal(t, orders.Working, ords[0].State)

	view, err := e.Equity(ctx, sim, equity.Live)
	require.NoError(t, err)
	assert.Len(t, view.Points, 2)
	require.NotNil(t, view.PnL)
	assert.Equal(t, 100.0, view.PnL.Amount)
	assert.Equal(t, equity.Up, view.PnL.Direction)

	scopes, err := e.Scopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []broker.Scope{sim}, scopes)

	accts, err := e.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sim1"}, accts)

	st, err := e.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, health.Red, st.Outer)

	close(src)
	require.NoError(t, <-errc)

	require.Len(t, rec.equity, 1, "pending points flushed on stop")
	assert.Len(t, rec.equity[0].Points, 2)

	_, err = e.Positions(ctx)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, e.Run(context.Background(), src), ErrRunning)

	for range e.Published() {
	}
}

func TestFillPriceWidensTradeExtremes(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, Config{})
	e.Handle(msg(&dtc.PositionUpdate{Symbol: "ESZ5", TradeAccount: "Sim1", Quantity: 1, AveragePrice: 100}, t0))
	e.Handle(msg(&dtc.OrderUpdate{
		ServerOrderID: "S1", Symbol: "ESZ5", BuySell: 1, OrderQuantity: 1,
		OrderStatus: orders.StatusOpen, TradeAccount: "Sim1",
	}, t0))
	// Follow-up updates often omit the account; the order record supplies it.
	e.Handle(msg(&dtc.OrderUpdate{
		ServerOrderID: "S1", OrderStatus: orders.StatusFilled, FilledQuantity: 1, LastFillPrice: 103,
	}, t0.Add(time.Second)))
	// A fill for a symbol with no position does not create one.
	e.Handle(msg(&dtc.OrderUpdate{
		ServerOrderID: "S2", Symbol: "NQZ5", BuySell: 2, OrderQuantity: 1, FilledQuantity: 1,
		OrderStatus: orders.StatusFilled, LastFillPrice: 18000, TradeAccount: "Sim1",
	}, t0.Add(time.Second)))

	r, ok := e.positions.Get(positions.Key{Mode: broker.ModeSim, Account: "Sim1", Symbol: "ESZ5"})
	require.True(t, ok)
	assert.Equal(t, 100.0, r.TradeMin)
	assert.Equal(t, 103.0, r.TradeMax)
	assert.Len(t, e.positions.Snapshot(), 1)
}

func TestResetDropsScopeBooks(t *testing.T) {
	t.Parallel()

	e, _ := seededEngine(t)
	live := broker.Scope{Mode: broker.ModeLive, Account: "120005"}
	e.Handle(msg(&dtc.OrderUpdate{
		ServerOrderID: "S1", Symbol: "ESZ5", BuySell: 1, OrderQuantity: 1,
		OrderStatus: orders.StatusOpen, TradeAccount: "Sim1",
	}, t0))
	e.Handle(msg(&dtc.PositionUpdate{Symbol: "CLZ5", TradeAccount: "120005", Quantity: 1, AveragePrice: 70}, t0))
	e.Handle(msg(&dtc.AccountBalanceUpdate{CashBalance: 10000, TradeAccount: "Sim1"}, t0))
	drain(e)

	rs := e.reset(sim)
	assert.Equal(t, ResetScope{Scope: sim, Orders: 1, Positions: 2}, rs)

	open := e.positions.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, live, open[0].Scope())
	assert.Zero(t, e.orders.Len())
	assert.Len(t, e.equity.Points(sim), 1, "equity history kept")

	evs := ofKind(drain(e), KindReset)
	require.Len(t, evs, 1)
	assert.Equal(t, rs, *evs[0].Reset)
}

func TestQueryWaitsForLoopAfterCancel(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, Config{TickInterval: time.Hour})
	src := make(chan session.Event)
	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background(), src) }()

	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})
	release := make(chan struct{})
	wrote := false
	res := make(chan error, 1)
	go func() {
		res <- e.do(ctx, func() {
			close(entered)
			<-release
			wrote = true
		})
	}()

	<-entered
	cancel()
	select {
	case <-res:
		t.Fatal("query returned while the loop was still running it")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-res)
	assert.True(t, wrote)

	rs, err := e.Reset(context.Background(), sim)
	require.NoError(t, err)
	assert.Equal(t, sim, rs.Scope)

	close(src)
	require.NoError(t, <-errc)
	for range e.Published() {
	}
}
