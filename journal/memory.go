package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
)

// Memory is a Journal backed by maps. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	positions map[positions.Key]positions.Record
	orders    map[string]orders.Record
	equity    map[broker.Scope][]equity.Point
}

var _ Journal = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		positions: make(map[positions.Key]positions.Record),
		orders:    make(map[string]orders.Record),
		equity:    make(map[broker.Scope][]equity.Point),
	}
}

func (m *Memory) UpsertPosition(_ context.Context, p positions.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Key] = p
	return nil
}

func (m *Memory) OpenPositions(_ context.Context) ([]positions.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []positions.Record
	for _, p := range m.positions {
		if p.Qty != 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Scope() != b.Scope() {
			return a.Scope().String() < b.Scope().String()
		}
		return a.Symbol < b.Symbol
	})
	return out, nil
}

func (m *Memory) UpsertOrder(_ context.Context, o orders.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ClientOrderID != "" {
		for k, r := range m.orders {
			if r.ClientOrderID == o.ClientOrderID && k != o.Key() {
				delete(m.orders, k)
			}
		}
	}
	m.orders[o.Key()] = o
	return nil
}

func (m *Memory) OpenOrders(_ context.Context) ([]orders.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []orders.Record
	for _, o := range m.orders {
		if o.State != orders.Closed {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (m *Memory) RecordEquity(_ context.Context, scope broker.Scope, points []equity.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity[scope] = append(m.equity[scope], points...)
	return nil
}

func (m *Memory) LoadEquity(_ context.Context, scope broker.Scope, since time.Time) ([]equity.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []equity.Point
	for _, p := range m.equity[scope] {
		if !p.At.Before(since) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (m *Memory) EquityScopes(_ context.Context) ([]broker.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]broker.Scope, 0, len(m.equity))
	for s := range m.equity {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (m *Memory) Close() error { return nil }
