// Package health classifies connection and data-flow health as a pair of
// stoplight colors derived from the last heartbeat and last data timestamps.
package health

import "time"

type Color string

const (
	Green  Color = "green"
	Yellow Color = "yellow"
	Red    Color = "red"
)

// Thresholds are inclusive upper bounds on elapsed time for each color.
type Thresholds struct {
	HeartbeatGreen  time.Duration
	HeartbeatYellow time.Duration
	DataGreen       time.Duration
	DataYellow      time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		HeartbeatGreen:  5 * time.Second,
		HeartbeatYellow: 10 * time.Second,
		DataGreen:       5 * time.Second,
		DataYellow:      15 * time.Second,
	}
}

// Status is one evaluation. Outer is the connection (heartbeat) light,
// Inner the data-flow light. Zero timestamps mean "never".
type Status struct {
	Outer         Color     `json:"outer"`
	Inner         Color     `json:"inner"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastData      time.Time `json:"last_data"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// Monitor is owned by the engine's event loop and is not safe for
// concurrent use. It only reports; it never drives reconnects.
type Monitor struct {
	th            Thresholds
	lastHeartbeat time.Time
	lastData      time.Time
	prev          Status
}

func NewMonitor(th Thresholds) *Monitor {
	return &Monitor{
		th:   th,
		prev: Status{Outer: Red, Inner: Red},
	}
}

// MarkHeartbeat records heartbeat activity. Heartbeats are data too.
func (m *Monitor) MarkHeartbeat(t time.Time) {
	m.lastHeartbeat = t
	m.lastData = t
}

// MarkData records any inbound message.
func (m *Monitor) MarkData(t time.Time) {
	m.lastData = t
}

// Reset clears both timestamps, forcing red/red until activity resumes.
func (m *Monitor) Reset() {
	m.lastHeartbeat = time.Time{}
	m.lastData = time.Time{}
}

func (m *Monitor) Evaluate(now time.Time) Status {
	return Status{
		Outer:         classify(m.lastHeartbeat, now, m.th.HeartbeatGreen, m.th.HeartbeatYellow),
		Inner:         classify(m.lastData, now, m.th.DataGreen, m.th.DataYellow),
		LastHeartbeat: m.lastHeartbeat,
		LastData:      m.lastData,
		EvaluatedAt:   now,
	}
}

// Tick evaluates and reports whether either color changed since the last tick.
func (m *Monitor) Tick(now time.Time) (Status, bool) {
	st := m.Evaluate(now)
	changed := st.Outer != m.prev.Outer || st.Inner != m.prev.Inner
	m.prev = st
	return st, changed
}

func classify(last, now time.Time, green, yellow time.Duration) Color {
	if last.IsZero() {
		return Red
	}
	elapsed := now.Sub(last)
	switch {
	case elapsed <= green:
		return Green
	case elapsed <= yellow:
		return Yellow
	default:
		return Red
	}
}
