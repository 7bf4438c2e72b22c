package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/dtc"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/internal/metrics"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
	"github.com/rustyeddy/dtcterm/session"
)

type handler func(ev session.Event)

// handlerTable is the single kind→handler dispatch for inbound messages.
func (e *Engine) handlerTable() map[dtc.Kind]handler {
	return map[dtc.Kind]handler{
		dtc.KindHeartbeat:               e.onHeartbeat,
		dtc.KindOrderUpdate:             e.onOrder,
		dtc.KindPositionUpdate:          e.onPosition,
		dtc.KindTradeAccountResponse:    e.onTradeAccount,
		dtc.KindAccountBalanceUpdate:    e.onBalance,
		dtc.KindAccountBalanceUpdateAlt: e.onBalance,
		dtc.KindLogoff:                  e.onLogoff,
	}
}

func (e *Engine) onHeartbeat(ev session.Event) {
	e.health.MarkHeartbeat(ev.At)
}

func (e *Engine) onOrder(ev session.Event) {
	m, ok := ev.Msg.(*dtc.OrderUpdate)
	if !ok || m.NoOrders != 0 {
		return
	}
	side, _ := broker.SideFromDTC(m.BuySell)
	sc := e.scope(m.TradeAccount)

	t, err := e.orders.Update(orders.Update{
		ServerOrderID: m.ServerOrderID,
		ClientOrderID: m.ClientOrderID,
		Symbol:        m.Symbol,
		Side:          side,
		Qty:           m.OrderQuantity,
		FilledQty:     m.FilledQuantity,
		Price:         m.Price1,
		AvgFillPrice:  m.AverageFillPrice,
		Status:        m.OrderStatus,
		Mode:          sc.Mode,
		Account:       m.TradeAccount,
		At:            ev.At,
	})
	if err != nil {
		e.log.WithError(stateErr("orders", err)).WithField("symbol", m.Symbol).Warn("dropping order update")
		return
	}
	if t.Old == orders.Closed {
		return
	}
	if m.LastFillPrice > 0 {
		// Fills are traded prices, so they widen the position's extremes
		// when the broker omits its own high/low.
		r := t.Record
		e.positions.ObservePrice(positions.Key{Mode: r.Mode, Account: r.Account, Symbol: r.Symbol}, m.LastFillPrice)
	}

	e.persist.SaveOrder(t.Record)
	if t.Changed() {
		metrics.OrderTransitions.WithLabelValues(string(t.New)).Inc()
		e.log.WithFields(logrus.Fields{
			"order": t.Record.Key(),
			"from":  t.Old,
			"to":    t.New,
		}).Debug("order transition")
		e.publish(Event{Kind: KindOrder, At: ev.At, Order: &OrderChange{Old: t.Old, New: t.New, Record: t.Record}})
	}
}

func (e *Engine) onPosition(ev session.Event) {
	m, ok := ev.Msg.(*dtc.PositionUpdate)
	if !ok {
		return
	}
	sc := e.scope(m.TradeAccount)

	if m.NoPositions == 0 {
		k := positions.Key{Mode: sc.Mode, Account: m.TradeAccount, Symbol: m.Symbol}
		prev, _ := e.positions.Get(k)

		t, err := e.positions.Update(positions.Update{
			Key:           k,
			Qty:           m.Quantity,
			AvgEntry:      m.AveragePrice,
			UnrealizedPnL: m.OpenProfitLoss,
			High:          m.HighPriceDuringPosition,
			Low:           m.LowPriceDuringPosition,
			At:            ev.At,
		})
		if err != nil {
			e.log.WithError(stateErr("positions", err)).Warn("dropping position update")
		} else {
			e.persist.SavePosition(t.Record)
			if t.Changed() || prev.Qty != t.Record.Qty || prev.Recovered {
				metrics.PositionTransitions.WithLabelValues(string(t.New)).Inc()
				e.publish(Event{Kind: KindPosition, At: ev.At, Position: positionChange(t)})
			}
		}
	}

	if !ev.Solicited {
		return
	}
	if m.Symbol != "" {
		seen, ok := e.batch[sc]
		if !ok {
			seen = make(map[string]bool)
			e.batch[sc] = seen
		}
		seen[m.Symbol] = true
	}
	if m.LastInBatch() {
		e.reconcile(m.TradeAccount, sc, ev.At)
	}
}

// reconcile closes recovered positions that the completed live snapshot did
// not confirm. A snapshot with no account covers every scope.
func (e *Engine) reconcile(account string, sc broker.Scope, at time.Time) {
	scopes := []broker.Scope{sc}
	if account == "" {
		scopes = e.recoveredScopes()
		for s := range e.batch {
			scopes = appendScope(scopes, s)
		}
	}
	for _, s := range scopes {
		for _, t := range e.positions.Reconcile(s, e.batch[s], at) {
			e.log.WithFields(logrus.Fields{
				"scope":  s.String(),
				"symbol": t.Record.Symbol,
			}).Warn("recovered position not confirmed by broker, closing")
			e.persist.SavePosition(t.Record)
			metrics.PositionTransitions.WithLabelValues(string(t.New)).Inc()
			e.publish(Event{Kind: KindPosition, At: at, Position: positionChange(t)})
		}
		delete(e.batch, s)
	}
}

func (e *Engine) recoveredScopes() []broker.Scope {
	var out []broker.Scope
	for _, r := range e.positions.OpenPositions() {
		if r.Recovered {
			out = appendScope(out, r.Scope())
		}
	}
	return out
}

func appendScope(scopes []broker.Scope, s broker.Scope) []broker.Scope {
	for _, x := range scopes {
		if x == s {
			return scopes
		}
	}
	return append(scopes, s)
}

func (e *Engine) onTradeAccount(ev session.Event) {
	m, ok := ev.Msg.(*dtc.TradeAccountResponse)
	if !ok || m.TradeAccount == "" {
		return
	}
	if !e.accounts[m.TradeAccount] {
		e.accounts[m.TradeAccount] = true
		e.log.WithFields(logrus.Fields{
			"account": m.TradeAccount,
			"mode":    e.scope(m.TradeAccount).Mode,
		}).Info("trade account")
	}
}

func (e *Engine) onBalance(ev session.Event) {
	m, ok := ev.Msg.(*dtc.AccountBalanceUpdate)
	if !ok || m.NoAccountBalances != 0 {
		return
	}
	sc := e.scope(m.TradeAccount)
	p := equity.Point{At: ev.At, Balance: m.CashBalance}

	if err := e.equity.Append(sc, p); err != nil {
		e.log.WithError(stateErr("equity", err)).WithField("scope", sc.String()).Warn("dropping balance update")
		return
	}
	metrics.EquityPoints.Inc()
	e.publish(Event{Kind: KindEquity, At: ev.At, Equity: &EquityAppend{Scope: sc, Point: p}})
}

func (e *Engine) onLogoff(ev session.Event) {
	m, ok := ev.Msg.(*dtc.Logoff)
	if !ok {
		return
	}
	e.log.WithField("reason", m.Reason).Warn("server logoff")
}
