// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesReceived counts decoded inbound protocol messages by kind.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtcterm_messages_received_total",
		Help: "Inbound DTC messages by kind",
	}, []string{"kind"})

	// FramesDropped counts frames that could not be decoded.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtcterm_frames_dropped_total",
		Help: "Malformed inbound frames dropped",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtcterm_reconnects_total",
		Help: "Reconnect attempts after a lost session",
	})

	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtcterm_handshake_failures_total",
		Help: "Failed encoding or logon handshakes",
	})

	// SessionState is 1 for the current session state and 0 for the rest.
	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dtcterm_session_state",
		Help: "Current wire session state",
	}, []string{"state"})

	// HealthColor is 0 green, 1 yellow, 2 red, per probe (outer, inner).
	HealthColor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dtcterm_health_color",
		Help: "Connection health classification",
	}, []string{"probe"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtcterm_order_transitions_total",
		Help: "Order state transitions by new state",
	}, []string{"state"})

	PositionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtcterm_position_transitions_total",
		Help: "Position state transitions by new state",
	}, []string{"state"})

	// StateErrors counts updates dropped because they could not be applied.
	StateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtcterm_state_errors_total",
		Help: "Unusable order, position or equity updates",
	}, []string{"component"})

	EquityPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtcterm_equity_points_total",
		Help: "Equity points appended",
	})

	// EventsDropped counts published events discarded on a full queue.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtcterm_events_dropped_total",
		Help: "Published engine events dropped",
	})

	JournalDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtcterm_journal_dropped_total",
		Help: "Persistence operations dropped on a full queue",
	})

	JournalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtcterm_journal_errors_total",
		Help: "Persistence operations that failed",
	})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dtcterm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtcterm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dtcterm_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// SetSessionState marks state as current among all.
func SetSessionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer cannot hijack")
	}
	return h.Hijack()
}
