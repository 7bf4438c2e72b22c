// Package positions tracks per-symbol position lifecycle within a
// (mode, account) scope.
package positions

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/dtcterm/broker"
)

type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	Reducing State = "REDUCING"
	// Flatten is reserved for an explicit flatten command in flight. No
	// such command exists yet, so Update never produces it and reductions
	// to zero go straight to Closed.
	Flatten State = "FLATTEN"
)

var ErrNoSymbol = errors.New("positions: update has no symbol")

// Key is the primary key of a position.
type Key struct {
	Mode    broker.Mode `json:"mode"`
	Account string      `json:"account"`
	Symbol  string      `json:"symbol"`
}

func (k Key) Scope() broker.Scope {
	return broker.Scope{Mode: k.Mode, Account: k.Account}
}

// Record is the engine's view of one position. Qty is signed; zero is flat.
type Record struct {
	Key
	Qty           float64   `json:"qty"`
	AvgEntry      float64   `json:"avg_entry"`
	State         State     `json:"state"`
	OpenedAt      time.Time `json:"opened_at"`
	ClosedAt      time.Time `json:"closed_at"`
	LastUpdated   time.Time `json:"last_updated"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`

	// TradeMin and TradeMax are price extremes since entry.
	TradeMin float64 `json:"trade_min"`
	TradeMax float64 `json:"trade_max"`

	// Recovered marks a record seeded from storage and not yet confirmed by
	// a live broker event. Stale marks recovered records older than the
	// configured max age.
	Recovered bool `json:"recovered"`
	Stale     bool `json:"stale"`
}

func (r Record) Long() bool { return r.Qty > 0 }

// Excursion returns MAE/MFE for the current trade extremes.
func (r Record) Excursion() (mae, mfe float64) {
	return Excursion(r.Long(), r.AvgEntry, r.TradeMin, r.TradeMax)
}

type Update struct {
	Key
	Qty           float64
	AvgEntry      float64
	UnrealizedPnL float64
	// High and Low are optional broker-reported extremes for the position.
	High float64
	Low  float64
	At   time.Time
}

type Transition struct {
	Old    State
	New    State
	Record Record
}

func (t Transition) Changed() bool { return t.Old != t.New }

// Book is owned by a single writer.
type Book struct {
	recs map[Key]*Record
}

func NewBook() *Book {
	return &Book{recs: make(map[Key]*Record)}
}

// Next applies the position transition rule to a quantity change.
func Next(oldQty, newQty float64) State {
	switch {
	case newQty == 0:
		return Closed
	case oldQty == 0:
		return Open
	case math.Abs(newQty) < math.Abs(oldQty):
		return Reducing
	default:
		return Open
	}
}

func (b *Book) Update(u Update) (Transition, error) {
	if u.Symbol == "" {
		return Transition{}, ErrNoSymbol
	}

	r, ok := b.recs[u.Key]
	if !ok {
		r = &Record{Key: u.Key, State: Closed}
		b.recs[u.Key] = r
	}

	old := r.State
	oldQty := r.Qty
	next := Next(oldQty, u.Qty)

	// A sign flip through zero in a single update is a new trade.
	reversed := oldQty != 0 && u.Qty != 0 && (oldQty > 0) != (u.Qty > 0)

	r.Qty = u.Qty
	r.LastUpdated = u.At
	r.Recovered = false
	r.Stale = false
	r.UnrealizedPnL = u.UnrealizedPnL

	switch {
	case next == Closed:
		r.Qty = 0
		r.ClosedAt = u.At
		r.UnrealizedPnL = 0
	case oldQty == 0 || reversed:
		r.AvgEntry = u.AvgEntry
		r.OpenedAt = u.At
		r.ClosedAt = time.Time{}
		r.TradeMin = u.AvgEntry
		r.TradeMax = u.AvgEntry
	default:
		if u.AvgEntry != 0 {
			r.AvgEntry = u.AvgEntry
		}
	}
	r.State = next

	if next != Closed {
		r.observe(u.Low)
		r.observe(u.High)
	}

	return Transition{Old: old, New: next, Record: *r}, nil
}

func (r *Record) observe(price float64) {
	if price <= 0 {
		return
	}
	if r.TradeMin == 0 || price < r.TradeMin {
		r.TradeMin = price
	}
	if price > r.TradeMax {
		r.TradeMax = price
	}
}

// ObservePrice extends the trade extremes of an open position.
func (b *Book) ObservePrice(k Key, price float64) bool {
	r, ok := b.recs[k]
	if !ok || r.State == Closed {
		return false
	}
	r.observe(price)
	return true
}

// Seed restores a persisted position. Live state always wins: a key the
// book already tracks is left untouched.
func (b *Book) Seed(r Record, stale bool) bool {
	if r.Symbol == "" || r.Qty == 0 {
		return false
	}
	if _, ok := b.recs[r.Key]; ok {
		return false
	}
	rec := r
	rec.State = Open
	rec.Recovered = true
	rec.Stale = stale
	if rec.TradeMin == 0 && rec.TradeMax == 0 {
		rec.TradeMin = rec.AvgEntry
		rec.TradeMax = rec.AvgEntry
	}
	b.recs[r.Key] = &rec
	return true
}

// Reconcile closes recovered positions in scope that a complete live
// snapshot did not confirm. confirmed holds the symbols present in the
// snapshot.
func (b *Book) Reconcile(scope broker.Scope, confirmed map[string]bool, at time.Time) []Transition {
	var out []Transition
	for _, r := range b.sorted() {
		if r.Scope() != scope || !r.Recovered || r.State == Closed {
			continue
		}
		if confirmed[r.Symbol] {
			continue
		}
		old := r.State
		r.Qty = 0
		r.State = Closed
		r.ClosedAt = at
		r.LastUpdated = at
		r.Recovered = false
		r.Stale = false
		out = append(out, Transition{Old: old, New: Closed, Record: *r})
	}
	return out
}

func (b *Book) Get(k Key) (Record, bool) {
	r, ok := b.recs[k]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Snapshot returns copies of every tracked position ordered by key.
func (b *Book) Snapshot() []Record {
	recs := b.sorted()
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r)
	}
	return out
}

// OpenPositions returns copies of every non-flat position.
func (b *Book) OpenPositions() []Record {
	var out []Record
	for _, r := range b.sorted() {
		if r.State != Closed {
			out = append(out, *r)
		}
	}
	return out
}

// Reset drops every position in scope and reports how many went. Reconnects
// do not call this.
func (b *Book) Reset(scope broker.Scope) int {
	n := 0
	for k := range b.recs {
		if k.Scope() == scope {
			delete(b.recs, k)
			n++
		}
	}
	return n
}

func (b *Book) sorted() []*Record {
	out := make([]*Record, 0, len(b.recs))
	for _, r := range b.recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i].Key, out[j].Key
		if a.Mode != c.Mode {
			return a.Mode < c.Mode
		}
		if a.Account != c.Account {
			return a.Account < c.Account
		}
		return a.Symbol < c.Symbol
	})
	return out
}
