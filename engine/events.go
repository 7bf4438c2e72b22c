package engine

import (
	"time"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/health"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
	"github.com/rustyeddy/dtcterm/session"
)

type Kind string

const (
	KindOrder    Kind = "order"
	KindPosition Kind = "position"
	KindHealth   Kind = "health"
	KindEquity   Kind = "equity"
	KindSession  Kind = "session"
	KindFatal    Kind = "fatal"
	KindReset    Kind = "reset"
)

// Event is published to presentation consumers. Events are values built from
// copies of engine state; consumers must treat them as read-only.
type Event struct {
	ID   string    `json:"id"`
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`

	Order    *OrderChange    `json:"order,omitempty"`
	Position *PositionChange `json:"position,omitempty"`
	Health   *health.Status  `json:"health,omitempty"`
	Equity   *EquityAppend   `json:"equity,omitempty"`
	Session  *SessionChange  `json:"session,omitempty"`
	Reset    *ResetScope     `json:"reset,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// OrderChange carries the pre-collapse state in New, so a fill and a cancel
// are distinguishable even though both records end CLOSED.
type OrderChange struct {
	Old    orders.State  `json:"old"`
	New    orders.State  `json:"new"`
	Record orders.Record `json:"record"`
}

type PositionChange struct {
	Old        positions.State  `json:"old"`
	New        positions.State  `json:"new"`
	Record     positions.Record `json:"record"`
	MAE        float64          `json:"mae"`
	MFE        float64          `json:"mfe"`
	Efficiency float64          `json:"efficiency"`
}

type EquityAppend struct {
	Scope broker.Scope `json:"scope"`
	Point equity.Point `json:"point"`
}

type SessionChange struct {
	State session.State `json:"state"`
	Conn  string        `json:"conn,omitempty"`
	Err   string        `json:"err,omitempty"`
}

// ResetScope reports books dropped for a scope. Consumers should discard
// what they hold for it.
type ResetScope struct {
	Scope     broker.Scope `json:"scope"`
	Orders    int          `json:"orders"`
	Positions int          `json:"positions"`
}

// EquityView answers a windowed equity query.
type EquityView struct {
	Scope     broker.Scope     `json:"scope"`
	Timeframe equity.Timeframe `json:"timeframe"`
	Points    []equity.Point   `json:"points"`
	PnL       *equity.PnL      `json:"pnl,omitempty"`
}

func positionChange(t positions.Transition) *PositionChange {
	pc := &PositionChange{Old: t.Old, New: t.New, Record: t.Record}
	if t.Record.State != positions.Closed {
		pc.MAE, pc.MFE = t.Record.Excursion()
		pc.Efficiency = positions.Efficiency(pc.MAE, pc.MFE)
	}
	return pc
}
