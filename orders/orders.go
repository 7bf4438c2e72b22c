// Package orders tracks per-order lifecycle state from broker order updates.
package orders

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/dtcterm/broker"
)

type State string

const (
	Pending         State = "PENDING"
	Working         State = "WORKING"
	PartiallyFilled State = "PARTIALLY_FILLED"
	Filled          State = "FILLED"
	Cancelled       State = "CANCELLED"
	Rejected        State = "REJECTED"
	Closed          State = "CLOSED"
)

// Terminal reports whether s is a broker terminal status. Records in a
// terminal status are collapsed to Closed.
func (s State) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// ErrUnusable is returned for an update that names no known order and lacks
// the symbol or side needed to create one.
var ErrUnusable = errors.New("orders: update cannot create an order")

// Broker order status codes.
const (
	StatusUnset                = 0
	StatusOrderSent            = 1
	StatusPendingOpen          = 2
	StatusPendingChild         = 3
	StatusOpen                 = 4
	StatusPendingCancelReplace = 5
	StatusPendingCancel        = 6
	StatusFilled               = 7
	StatusCanceled             = 8
	StatusRejected             = 9
	StatusPartiallyFilled      = 10
)

var statusStates = map[int]State{
	StatusOrderSent:            Pending,
	StatusPendingOpen:          Pending,
	StatusPendingChild:         Pending,
	StatusOpen:                 Working,
	StatusPendingCancelReplace: Working,
	StatusPendingCancel:        Working,
	StatusFilled:               Filled,
	StatusCanceled:             Cancelled,
	StatusRejected:             Rejected,
	StatusPartiallyFilled:      PartiallyFilled,
}

// Record is the engine's view of one order. At least one of ServerOrderID
// and ClientOrderID is set.
type Record struct {
	ServerOrderID string      `json:"server_order_id,omitempty"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	Symbol        string      `json:"symbol"`
	Side          broker.Side `json:"side"`
	Qty           float64     `json:"qty"`
	FilledQty     float64     `json:"filled_qty"`
	Price         float64     `json:"price"`
	AvgFillPrice  float64     `json:"avg_fill_price"`
	State         State       `json:"state"`
	Mode          broker.Mode `json:"mode"`
	Account       string      `json:"account"`
	SubmittedAt   time.Time   `json:"submitted_at"`
	FilledAt      time.Time   `json:"filled_at"`
	ClosedAt      time.Time   `json:"closed_at"`
	LastUpdated   time.Time   `json:"last_updated"`
}

// Key is the identity used in logs and persistence.
func (r Record) Key() string {
	if r.ServerOrderID != "" {
		return r.ServerOrderID
	}
	return "client:" + r.ClientOrderID
}

func (r Record) Scope() broker.Scope {
	return broker.Scope{Mode: r.Mode, Account: r.Account}
}

// Update is one order event. Status is a broker status code; zero means
// absent, in which case the state is inferred from fill quantities.
type Update struct {
	ServerOrderID string
	ClientOrderID string
	Symbol        string
	Side          broker.Side
	Qty           float64
	FilledQty     float64
	Price         float64
	AvgFillPrice  float64
	Status        int
	Mode          broker.Mode
	Account       string
	At            time.Time
}

// Transition reports a state change. New is the state before terminal
// collapse, so Filled, Cancelled and Rejected remain distinguishable even
// though Record.State is Closed for all three.
type Transition struct {
	Old    State
	New    State
	Record Record
}

func (t Transition) Changed() bool { return t.Old != t.New }

// Book holds orders reachable by either ID. Both indexes point at the same
// record. Book is owned by a single writer.
type Book struct {
	byServer map[string]*Record
	byClient map[string]*Record
}

func NewBook() *Book {
	return &Book{
		byServer: make(map[string]*Record),
		byClient: make(map[string]*Record),
	}
}

func (b *Book) lookup(serverID, clientID string) *Record {
	if serverID != "" {
		if r, ok := b.byServer[serverID]; ok {
			return r
		}
	}
	if clientID != "" {
		if r, ok := b.byClient[clientID]; ok {
			return r
		}
	}
	return nil
}

func (b *Book) index(r *Record, serverID, clientID string) {
	if serverID != "" && r.ServerOrderID != serverID {
		if r.ServerOrderID != "" && b.byServer[r.ServerOrderID] == r {
			delete(b.byServer, r.ServerOrderID)
		}
		r.ServerOrderID = serverID
	}
	if clientID != "" && r.ClientOrderID != clientID {
		if r.ClientOrderID != "" && b.byClient[r.ClientOrderID] == r {
			delete(b.byClient, r.ClientOrderID)
		}
		r.ClientOrderID = clientID
	}
	if r.ServerOrderID != "" {
		b.byServer[r.ServerOrderID] = r
	}
	if r.ClientOrderID != "" {
		b.byClient[r.ClientOrderID] = r
	}
}

// Update applies u and returns the resulting transition. Updates for an
// already closed order are ignored and report Closed→Closed.
func (b *Book) Update(u Update) (Transition, error) {
	if u.ServerOrderID == "" && u.ClientOrderID == "" {
		return Transition{}, fmt.Errorf("%w: no order id", ErrUnusable)
	}

	r := b.lookup(u.ServerOrderID, u.ClientOrderID)
	if r == nil {
		if u.Symbol == "" || u.Side == "" {
			return Transition{}, fmt.Errorf("%w: %s/%s missing symbol or side", ErrUnusable, u.ServerOrderID, u.ClientOrderID)
		}
		r = &Record{
			Symbol:      u.Symbol,
			Side:        u.Side,
			State:       Pending,
			Mode:        u.Mode,
			Account:     u.Account,
			SubmittedAt: u.At,
		}
	}
	b.index(r, u.ServerOrderID, u.ClientOrderID)

	old := r.State
	if old == Closed {
		return Transition{Old: Closed, New: Closed, Record: *r}, nil
	}

	merge(r, u)

	var next State
	if st, ok := statusStates[u.Status]; ok {
		next = st
	} else {
		next = infer(r.FilledQty, r.Qty)
	}

	r.LastUpdated = u.At
	if next == Filled && r.FilledAt.IsZero() {
		r.FilledAt = u.At
	}
	if next.Terminal() {
		r.State = Closed
		r.ClosedAt = u.At
	} else {
		r.State = next
	}

	return Transition{Old: old, New: next, Record: *r}, nil
}

func merge(r *Record, u Update) {
	if u.Symbol != "" {
		r.Symbol = u.Symbol
	}
	if u.Side != "" {
		r.Side = u.Side
	}
	if u.Qty > 0 {
		r.Qty = u.Qty
	}
	if u.FilledQty > r.FilledQty {
		r.FilledQty = u.FilledQty
	}
	if u.Price != 0 {
		r.Price = u.Price
	}
	if u.AvgFillPrice != 0 {
		r.AvgFillPrice = u.AvgFillPrice
	}
	// Mode is derived from the account, so an update without an account
	// keeps the scope the order was created in.
	if u.Account != "" {
		r.Account = u.Account
		if u.Mode != "" {
			r.Mode = u.Mode
		}
	}
}

func infer(filled, qty float64) State {
	switch {
	case filled <= 0:
		return Working
	case qty > 0 && filled >= qty:
		return Filled
	default:
		return PartiallyFilled
	}
}

// Seed inserts a persisted record without producing a transition. Records
// already known by either ID are left untouched.
func (b *Book) Seed(r Record) bool {
	if r.ServerOrderID == "" && r.ClientOrderID == "" {
		return false
	}
	if b.lookup(r.ServerOrderID, r.ClientOrderID) != nil {
		return false
	}
	rec := r
	b.index(&rec, r.ServerOrderID, r.ClientOrderID)
	return true
}

// Get finds an order by server ID, falling back to client ID.
func (b *Book) Get(serverID, clientID string) (Record, bool) {
	r := b.lookup(serverID, clientID)
	if r == nil {
		return Record{}, false
	}
	return *r, true
}

func (b *Book) Len() int {
	return len(b.records())
}

// Snapshot returns copies of every order, oldest submission first.
func (b *Book) Snapshot() []Record {
	recs := b.records()
	out := make([]Record, 0, len(recs))
	for r := range recs {
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].Key() < out[j].Key()
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Working returns copies of every order not yet closed.
func (b *Book) Working() []Record {
	var out []Record
	for _, r := range b.Snapshot() {
		if r.State != Closed {
			out = append(out, r)
		}
	}
	return out
}

// Reset drops every order in scope and reports how many went. Reconnects do
// not call this.
func (b *Book) Reset(scope broker.Scope) int {
	n := 0
	for r := range b.records() {
		if r.Scope() != scope {
			continue
		}
		if r.ServerOrderID != "" {
			delete(b.byServer, r.ServerOrderID)
		}
		if r.ClientOrderID != "" {
			delete(b.byClient, r.ClientOrderID)
		}
		n++
	}
	return n
}

func (b *Book) records() map[*Record]struct{} {
	set := make(map[*Record]struct{}, len(b.byServer)+len(b.byClient))
	for _, r := range b.byServer {
		set[r] = struct{}{}
	}
	for _, r := range b.byClient {
		set[r] = struct{}{}
	}
	return set
}
