package journal

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/internal/metrics"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
)

const DefaultQueueSize = 1024

type op struct {
	name string
	fn   func(ctx context.Context, j Journal) error
}

// Async is a write-behind queue in front of a Journal. Enqueueing never
// blocks: when the queue is full the operation is dropped and counted.
type Async struct {
	j       Journal
	log     *logrus.Entry
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	ops    chan op
	done   chan struct{}
}

func NewAsync(j Journal, size int, log *logrus.Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &Async{
		j:       j,
		log:     log.WithField("component", "journal"),
		timeout: 5 * time.Second,
		ops:     make(chan op, size),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) SavePosition(p positions.Record) bool {
	return a.enqueue(op{name: "position " + p.Symbol, fn: func(ctx context.Context, j Journal) error {
		return j.UpsertPosition(ctx, p)
	}})
}

func (a *Async) SaveOrder(o orders.Record) bool {
	return a.enqueue(op{name: "order " + o.Key(), fn: func(ctx context.Context, j Journal) error {
		return j.UpsertOrder(ctx, o)
	}})
}

func (a *Async) SaveEquity(scope broker.Scope, points []equity.Point) bool {
	ps := make([]equity.Point, len(points))
	copy(ps, points)
	return a.enqueue(op{name: "equity " + scope.String(), fn: func(ctx context.Context, j Journal) error {
		return j.RecordEquity(ctx, scope, ps)
	}})
}

func (a *Async) enqueue(o op) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.log.WithField("op", o.name).Warn("journal closed, dropping write")
		metrics.JournalDropped.Inc()
		return false
	}
	select {
	case a.ops <- o:
		return true
	default:
		a.log.WithField("op", o.name).Warn("journal queue full, dropping write")
		metrics.JournalDropped.Inc()
		return false
	}
}

func (a *Async) loop() {
	defer close(a.done)
	for o := range a.ops {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := o.fn(ctx, a.j)
		cancel()
		if err != nil {
			metrics.JournalErrors.Inc()
			a.log.WithError(err).WithField("op", o.name).Error("journal write failed")
		}
	}
}

// Close stops accepting writes and waits for queued ones to finish or for
// ctx to expire. It does not close the underlying Journal.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ops)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
