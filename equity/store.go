package equity

import (
	"errors"
	"sort"
	"time"

	"github.com/rustyeddy/dtcterm/broker"
)

const DefaultFlushInterval = 10 * time.Second

var (
	ErrOutOfOrder  = errors.New("equity: point older than last appended")
	ErrLiveStarted = errors.New("equity: history must be loaded before live points")
)

// Batch is a group of points queued for persistence for one scope.
type Batch struct {
	Scope  broker.Scope
	Points []Point
}

type series struct {
	ring *Ring
	live bool
}

// Store owns one ring per scope plus a persistence queue. It has a single
// writer and performs no I/O: flushed batches are handed back to the caller.
type Store struct {
	capacity  int
	interval  time.Duration
	series    map[broker.Scope]*series
	pending   map[broker.Scope][]Point
	lastFlush time.Time
}

func NewStore(capacity int, flushInterval time.Duration) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Store{
		capacity: capacity,
		interval: flushInterval,
		series:   make(map[broker.Scope]*series),
		pending:  make(map[broker.Scope][]Point),
	}
}

func (s *Store) get(scope broker.Scope) *series {
	sr, ok := s.series[scope]
	if !ok {
		sr = &series{ring: NewRing(s.capacity)}
		s.series[scope] = sr
	}
	return sr
}

// Load bulk-inserts historical points for scope. It must precede the first
// live Append for that scope. Loaded points are not re-queued for
// persistence.
func (s *Store) Load(scope broker.Scope, points []Point) error {
	sr := s.get(scope)
	if sr.live {
		return ErrLiveStarted
	}
	ps := make([]Point, len(points))
	copy(ps, points)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].At.Before(ps[j].At) })

	if last, ok := sr.ring.Last(); ok && len(ps) > 0 && ps[0].At.Before(last.At) {
		return ErrOutOfOrder
	}
	sr.ring.Extend(ps)
	return nil
}

// Append adds a live point and queues it for persistence.
func (s *Store) Append(scope broker.Scope, p Point) error {
	sr := s.get(scope)
	if last, ok := sr.ring.Last(); ok && p.At.Before(last.At) {
		return ErrOutOfOrder
	}
	sr.live = true
	sr.ring.Append(p)
	s.pending[scope] = append(s.pending[scope], p)
	return nil
}

// FlushDue returns queued batches if the flush interval has elapsed since
// the last flush, and nil otherwise.
func (s *Store) FlushDue(now time.Time) []Batch {
	if s.lastFlush.IsZero() {
		s.lastFlush = now
	}
	if now.Sub(s.lastFlush) < s.interval {
		return nil
	}
	return s.Flush(now)
}

// Flush drains the persistence queue unconditionally.
func (s *Store) Flush(now time.Time) []Batch {
	s.lastFlush = now
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]Batch, 0, len(s.pending))
	for scope, ps := range s.pending {
		out = append(out, Batch{Scope: scope, Points: ps})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope.String() < out[j].Scope.String() })
	s.pending = make(map[broker.Scope][]Point)
	return out
}

// Pending returns the number of queued points across scopes.
func (s *Store) Pending() int {
	n := 0
	for _, ps := range s.pending {
		n += len(ps)
	}
	return n
}

// Points returns a copy of scope's series.
func (s *Store) Points(scope broker.Scope) []Point {
	sr, ok := s.series[scope]
	if !ok {
		return []Point{}
	}
	return sr.ring.Points()
}

// Window returns the points in tf's window for scope.
func (s *Store) Window(scope broker.Scope, tf Timeframe, now time.Time) []Point {
	sr, ok := s.series[scope]
	if !ok {
		return []Point{}
	}
	start, bounded := WindowStart(tf, now)
	if !bounded {
		return sr.ring.Points()
	}
	return sr.ring.Since(start)
}

// PnL computes tf's PnL for scope.
func (s *Store) PnL(scope broker.Scope, tf Timeframe, now time.Time) (PnL, bool) {
	return Compute(s.Points(scope), tf, now)
}

func (s *Store) Recent(scope broker.Scope, n int) []Point {
	sr, ok := s.series[scope]
	if !ok {
		return []Point{}
	}
	return sr.ring.Recent(n)
}

// Scopes lists every scope with a series.
func (s *Store) Scopes() []broker.Scope {
	out := make([]broker.Scope, 0, len(s.series))
	for scope := range s.series {
		out = append(out, scope)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
