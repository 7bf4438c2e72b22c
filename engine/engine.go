// Package engine is the single event-processing path. It consumes session
// events in arrival order, owns the order and position books, the equity
// store and the health monitor, and publishes immutable events to
// presentation consumers over a bounded queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/dtc"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/health"
	"github.com/rustyeddy/dtcterm/internal/id"
	"github.com/rustyeddy/dtcterm/internal/metrics"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
	"github.com/rustyeddy/dtcterm/recovery"
	"github.com/rustyeddy/dtcterm/session"
)

var (
	ErrStopped = errors.New("engine: stopped")
	ErrRunning = errors.New("engine: already running")
)

// Persister receives state to store asynchronously. Implementations must
// not block. *journal.Async satisfies it.
type Persister interface {
	SavePosition(p positions.Record) bool
	SaveOrder(o orders.Record) bool
	SaveEquity(scope broker.Scope, points []equity.Point) bool
}

type nopPersister struct{}

func (nopPersister) SavePosition(positions.Record) bool { return true }
func (nopPersister) SaveOrder(orders.Record) bool { return true }
func (nopPersister) SaveEquity(broker.Scope, []equity.Point) bool { return true }

type Config struct {
	// DefaultMode applies to accounts that are not recognized as simulated.
	DefaultMode    broker.Mode
	Health         health.Thresholds
	TickInterval   time.Duration
	EquityCapacity int
	FlushInterval  time.Duration
	PublishBuffer  int
}

func DefaultConfig() Config {
	return Config{
		DefaultMode:    broker.ModeLive,
		Health:         health.DefaultThresholds(),
		TickInterval:   time.Second,
		EquityCapacity: equity.DefaultCapacity,
		FlushInterval:  equity.DefaultFlushInterval,
		PublishBuffer:  1024,
	}
}

type Engine struct {
	cfg     Config
	log     *logrus.Entry
	persist Persister
	now     func() time.Time

	orders    *orders.Book
	positions *positions.Book
	equity    *equity.Store
	health    *health.Monitor

	handlers map[dtc.Kind]handler

	// symbols seen per scope in the solicited position snapshot in flight
	batch    map[broker.Scope]map[string]bool
	accounts map[string]bool

	out     chan Event
	queries chan func()
	stopped chan struct{}
	running bool
}

func New(cfg Config, persist Persister, log *logrus.Logger) *Engine {
	d := DefaultConfig()
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = d.DefaultMode
	}
	if cfg.Health == (health.Thresholds{}) {
		cfg.Health = d.Health
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = d.TickInterval
	}
	if cfg.PublishBuffer <= 0 {
		cfg.PublishBuffer = d.PublishBuffer
	}
	if persist == nil {
		persist = nopPersister{}
	}

	e := &Engine{
		cfg:       cfg,
		log:       log.WithField("component", "engine"),
		persist:   persist,
		now:       time.Now,
		orders:    orders.NewBook(),
		positions: positions.NewBook(),
		equity:    equity.NewStore(cfg.EquityCapacity, cfg.FlushInterval),
		health:    health.NewMonitor(cfg.Health),
		batch:     make(map[broker.Scope]map[string]bool),
		accounts:  make(map[string]bool),
		out:       make(chan Event, cfg.PublishBuffer),
		queries:   make(chan func()),
		stopped:   make(chan struct{}),
	}
	e.handlers = e.handlerTable()
	return e
}

// Published delivers engine events. It is closed when Run returns.
func (e *Engine) Published() <-chan Event { return e.out }

// Recover seeds the books from persisted state. It must run before Run.
func (e *Engine) Recover(ctx context.Context, src recovery.Source, maxAge time.Duration, log *logrus.Logger) (recovery.Summary, error) {
	if e.running {
		return recovery.Summary{}, ErrRunning
	}
	rc := recovery.New(src, e.positions, e.orders, e.equity, maxAge, log)
	sum, err := rc.Run(ctx)
	if err != nil {
		return sum, err
	}
	at := e.now()
	for _, r := range e.positions.OpenPositions() {
		e.publish(Event{Kind: KindPosition, At: at, Position: positionChange(positions.Transition{
			Old: positions.Closed, New: r.State, Record: r,
		})})
	}
	return sum, nil
}

// Run processes events until src is closed or ctx ends, then flushes
// pending equity points. All book mutation happens on this goroutine.
func (e *Engine) Run(ctx context.Context, src <-chan session.Event) error {
	if e.running {
		return ErrRunning
	}
	e.running = true
	defer close(e.out)
	defer close(e.stopped)
	defer e.flush(true)

	tick := time.NewTicker(e.cfg.TickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-src:
			if !ok {
				return nil
			}
			e.Handle(ev)
		case <-tick.C:
			e.Tick(e.now())
		case q := <-e.queries:
			q()
		}
	}
}

// Handle applies one session event. It is exported for callers that drive
// the engine synchronously; Run is the normal path.
func (e *Engine) Handle(ev session.Event) {
	switch {
	case ev.Fatal:
		e.log.WithError(ev.Err).Error("session fatal")
		e.publish(Event{Kind: KindFatal, At: ev.At, Error: errString(ev.Err)})
	case ev.State != "":
		e.onState(ev)
	case ev.Msg != nil:
		e.health.MarkData(ev.At)
		h, ok := e.handlers[ev.Msg.Kind()]
		if !ok {
			e.log.WithField("kind", ev.Msg.Kind().String()).Debug("unhandled message")
			return
		}
		h(ev)
	}
}

func (e *Engine) onState(ev session.Event) {
	if ev.State != session.Ready {
		// Disconnect clears health to red/red. Books survive reconnects.
		e.health.Reset()
		e.batch = make(map[broker.Scope]map[string]bool)
	}
	e.publish(Event{Kind: KindSession, At: ev.At, Session: &SessionChange{
		State: ev.State,
		Conn:  ev.Conn,
		Err:   errString(ev.Err),
	}})
	e.Tick(ev.At)
}

// Tick re-evaluates health and flushes equity when the interval is due.
func (e *Engine) Tick(now time.Time) {
	st, changed := e.health.Tick(now)
	metrics.HealthColor.WithLabelValues("outer").Set(colorValue(st.Outer))
	metrics.HealthColor.WithLabelValues("inner").Set(colorValue(st.Inner))
	if changed {
		e.publish(Event{Kind: KindHealth, At: now, Health: &st})
	}
	e.flush(false)
}

func (e *Engine) flush(force bool) {
	now := e.now()
	var batches []equity.Batch
	if force {
		batches = e.equity.Flush(now)
	} else {
		batches = e.equity.FlushDue(now)
	}
	for _, b := range batches {
		e.persist.SaveEquity(b.Scope, b.Points)
	}
}

// publish never blocks the event path; a full queue drops the event.
func (e *Engine) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	ev.ID = id.At(ev.At)
	select {
	case e.out <- ev:
	default:
		metrics.EventsDropped.Inc()
		e.log.WithField("kind", ev.Kind).Warn("publish queue full, dropping event")
	}
}

func (e *Engine) scope(account string) broker.Scope {
	return broker.Scope{Mode: broker.DetectMode(account, e.cfg.DefaultMode), Account: account}
}

func colorValue(c health.Color) float64 {
	switch c {
	case health.Green:
		return 0
	case health.Yellow:
		return 1
	default:
		return 2
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func stateErr(component string, err error) error {
	metrics.StateErrors.WithLabelValues(component).Inc()
	return fmt.Errorf("%s: %w", component, err)
}
