// Package journal persists engine state: positions, orders and equity
// points. The engine treats it as an opaque store with a small read/write
// contract.
package journal

import (
	"context"
	"time"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
)

type Journal interface {
	// UpsertPosition stores the latest view of a position, flat or not.
	UpsertPosition(ctx context.Context, p positions.Record) error
	// OpenPositions returns every persisted non-flat position.
	OpenPositions(ctx context.Context) ([]positions.Record, error)

	UpsertOrder(ctx context.Context, o orders.Record) error
	// OpenOrders returns persisted orders that have not reached CLOSED.
	OpenOrders(ctx context.Context) ([]orders.Record, error)

	RecordEquity(ctx context.Context, scope broker.Scope, points []equity.Point) error
	// LoadEquity returns scope's points at or after since, oldest first.
	LoadEquity(ctx context.Context, scope broker.Scope, since time.Time) ([]equity.Point, error)
	// EquityScopes lists every scope with persisted equity.
	EquityScopes(ctx context.Context) ([]broker.Scope, error)

	Close() error
}
