// Package server exposes engine state over HTTP. Every route is read-only.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/engine"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/health"
	"github.com/rustyeddy/dtcterm/internal/metrics"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
)

// Queries is the read side of the engine. *engine.Engine satisfies it.
type Queries interface {
	Positions(ctx context.Context) ([]positions.Record, error)
	Orders(ctx context.Context) ([]orders.Record, error)
	Health(ctx context.Context) (health.Status, error)
	Equity(ctx context.Context, scope broker.Scope, tf equity.Timeframe) (engine.EquityView, error)
	Scopes(ctx context.Context) ([]broker.Scope, error)
	Accounts(ctx context.Context) ([]string, error)
}

type Server struct {
	q   Queries
	hub *Hub
	log *logrus.Entry
	r   chi.Router
}

func New(q Queries, hub *Hub, log *logrus.Logger) *Server {
	s := &Server{q: q, hub: hub, log: log.WithField("component", "http")}
	s.r = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.r.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/positions", s.handlePositions)
		r.Get("/orders", s.handleOrders)
		r.Get("/equity", s.handleEquity)
		r.Get("/scopes", s.handleScopes)
		r.Get("/accounts", s.handleAccounts)
		r.Get("/health", s.handleHealth)
	})
	return r
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("http listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
			"request":  middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

type healthResponse struct {
	Status  string        `json:"status"`
	Service string        `json:"service"`
	Health  health.Status `json:"health"`
	Clients int           `json:"ws_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.q.Health(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := healthResponse{Status: "ok", Service: "dtcterm", Health: st}
	if st.Outer == health.Red {
		resp.Status = "disconnected"
	}
	if s.hub != nil {
		resp.Clients = s.hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.q.Positions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	out := make([]positionView, 0, len(recs))
	for _, rec := range recs {
		if !f.match(rec.Scope()) || (f.open && rec.State == positions.Closed) {
			continue
		}
		out = append(out, newPositionView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	recs, err := s.q.Orders(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	out := make([]orders.Record, 0, len(recs))
	for _, rec := range recs {
		if !f.match(rec.Scope()) || (f.open && rec.State == orders.Closed) {
			continue
		}
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := broker.ParseMode(q.Get("mode"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	account := q.Get("account")
	if account == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "account is required"})
		return
	}
	tf := equity.Day
	if v := q.Get("tf"); v != "" {
		if tf, err = equity.ParseTimeframe(v); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
	}

	view, err := s.q.Equity(r.Context(), broker.Scope{Mode: mode, Account: account}, tf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if view.Points == nil {
		view.Points = []equity.Point{}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := s.q.Scopes(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if scopes == nil {
		scopes = []broker.Scope{}
	}
	writeJSON(w, http.StatusOK, scopes)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := s.q.Accounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if accts == nil {
		accts = []string{}
	}
	writeJSON(w, http.StatusOK, accts)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	default:
		s.log.WithError(err).Error("query failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
