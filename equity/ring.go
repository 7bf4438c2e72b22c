// Package equity keeps bounded, time-ordered balance series per
// (mode, account) scope and answers windowed and PnL queries over them.
package equity

import (
	"sort"
	"time"
)

const DefaultCapacity = 5000

// Point is one balance observation.
type Point struct {
	At      time.Time `json:"at"`
	Balance float64   `json:"balance"`
}

// Ring is a fixed-capacity buffer of points in ascending time order. When
// full, appending evicts the oldest point.
type Ring struct {
	buf  []Point
	head int // index of the oldest point
	size int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Point, capacity)}
}

func (r *Ring) Cap() int { return len(r.buf) }
func (r *Ring) Len() int { return r.size }

// Append adds p in O(1). Callers enforce ordering.
func (r *Ring) Append(p Point) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = p
		r.size++
		return
	}
	r.buf[r.head] = p
	r.head = (r.head + 1) % len(r.buf)
}

// Extend appends a batch in order.
func (r *Ring) Extend(ps []Point) {
	if len(ps) > len(r.buf) {
		ps = ps[len(ps)-len(r.buf):]
	}
	for _, p := range ps {
		r.Append(p)
	}
}

// at returns the i-th oldest point.
func (r *Ring) at(i int) Point {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last returns the newest point.
func (r *Ring) Last() (Point, bool) {
	if r.size == 0 {
		return Point{}, false
	}
	return r.at(r.size - 1), true
}

// Points returns a copy of every point, oldest first.
func (r *Ring) Points() []Point {
	return r.copyFrom(0)
}

// Recent returns up to n of the newest points, oldest first.
func (r *Ring) Recent(n int) []Point {
	if n <= 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	return r.copyFrom(r.size - n)
}

// Since returns the points at or after start without scanning the buffer.
func (r *Ring) Since(start time.Time) []Point {
	i := sort.Search(r.size, func(i int) bool {
		return !r.at(i).At.Before(start)
	})
	return r.copyFrom(i)
}

// Arrays returns parallel timestamp (unix seconds) and balance slices for
// plotting.
func (r *Ring) Arrays() (ts []float64, bal []float64) {
	ts = make([]float64, r.size)
	bal = make([]float64, r.size)
	for i := 0; i < r.size; i++ {
		p := r.at(i)
		ts[i] = unixSeconds(p.At)
		bal[i] = p.Balance
	}
	return ts, bal
}

func (r *Ring) copyFrom(i int) []Point {
	if i >= r.size {
		return []Point{}
	}
	out := make([]Point, 0, r.size-i)
	for ; i < r.size; i++ {
		out = append(out, r.at(i))
	}
	return out
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
