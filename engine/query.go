package engine

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/health"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
)

// do runs fn on the event loop, so reads never race with mutation. Once the
// loop has accepted fn, do waits for it to finish even if ctx ends, because
// fn writes into the caller's variables.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	q := func() {
		fn()
		close(done)
	}
	select {
	case e.queries <- q:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (e *Engine) Positions(ctx context.Context) ([]positions.Record, error) {
	var out []positions.Record
	err := e.do(ctx, func() { out = e.positions.Snapshot() })
	return out, err
}

func (e *Engine) Orders(ctx context.Context) ([]orders.Record, error) {
	var out []orders.Record
	err := e.do(ctx, func() { out = e.orders.Snapshot() })
	return out, err
}

func (e *Engine) Health(ctx context.Context) (health.Status, error) {
	var st health.Status
	err := e.do(ctx, func() { st = e.health.Evaluate(e.now()) })
	return st, err
}

// Equity returns scope's points in tf's window together with tf's PnL.
func (e *Engine) Equity(ctx context.Context, scope broker.Scope, tf equity.Timeframe) (EquityView, error) {
	v := EquityView{Scope: scope, Timeframe: tf}
	err := e.do(ctx, func() {
		now := e.now()
		v.Points = e.equity.Window(scope, tf, now)
		if p, ok := e.equity.PnL(scope, tf, now); ok {
			v.PnL = &p
		}
	})
	return v, err
}

// Scopes lists every scope that has positions, orders or equity.
func (e *Engine) Scopes(ctx context.Context) ([]broker.Scope, error) {
	var out []broker.Scope
	err := e.do(ctx, func() {
		for _, s := range e.equity.Scopes() {
			out = appendScope(out, s)
		}
		for _, r := range e.positions.Snapshot() {
			out = appendScope(out, r.Scope())
		}
		for _, r := range e.orders.Snapshot() {
			out = appendScope(out, r.Scope())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	})
	return out, err
}

// Accounts lists trade accounts reported by the broker.
func (e *Engine) Accounts(ctx context.Context) ([]string, error) {
	var out []string
	err := e.do(ctx, func() {
		for a := range e.accounts {
			out = append(out, a)
		}
		sort.Strings(out)
	})
	return out, err
}

// Reset drops the order and position books for scope, for example after the
// operator flattens an account outside this terminal. Equity history is
// kept. The next broker snapshot rebuilds whatever is still open.
func (e *Engine) Reset(ctx context.Context, scope broker.Scope) (ResetScope, error) {
	var rs ResetScope
	err := e.do(ctx, func() {
		rs = e.reset(scope)
	})
	return rs, err
}

func (e *Engine) reset(scope broker.Scope) ResetScope {
	rs := ResetScope{
		Scope:     scope,
		Orders:    e.orders.Reset(scope),
		Positions: e.positions.Reset(scope),
	}
	delete(e.batch, scope)
	e.log.WithFields(logrus.Fields{
		"scope":     scope.String(),
		"orders":    rs.Orders,
		"positions": rs.Positions,
	}).Info("books reset")
	e.publish(Event{Kind: KindReset, At: e.now(), Reset: &rs})
	return rs
}
