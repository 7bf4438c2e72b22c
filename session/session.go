// Package session speaks the DTC wire protocol over one long-lived TCP
// connection: framing, encoding negotiation, logon, a heartbeat watchdog and
// reconnection with bounded exponential backoff.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/dtcterm/dtc"
	"github.com/rustyeddy/dtcterm/internal/id"
	"github.com/rustyeddy/dtcterm/internal/metrics"
)

// Dialer opens the transport. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Session is the sole producer of protocol events. Run owns the socket read
// loop; Send, the Request helpers and Shutdown may be called from any
// goroutine.
type Session struct {
	cfg     Config
	dialer  Dialer
	log     *logrus.Entry
	limiter *rate.Limiter
	events  chan Event
	done    chan struct{}

	mu      sync.Mutex
	state   State
	conn    net.Conn
	connID  string
	pending map[int]dtc.Kind
	cancel  context.CancelFunc
	started bool

	writeMu sync.Mutex
	reqID   atomic.Int32

	// only touched by the Run goroutine
	skipEncoding bool
}

func New(cfg Config, dialer Dialer, log *logrus.Logger) *Session {
	cfg = cfg.withDefaults()
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Session{
		cfg:     cfg,
		dialer:  dialer,
		log:     log.WithFields(logrus.Fields{"component": "session", "addr": cfg.Addr}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestRate), cfg.RequestBurst),
		events:  make(chan Event, cfg.EventBuffer),
		done:    make(chan struct{}),
		state:   Disconnected,
		pending: make(map[int]dtc.Kind),
	}
}

// Events delivers protocol messages and state changes in arrival order. It
// is closed when Run returns.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run connects and keeps the session alive until ctx is cancelled, Shutdown
// is called, or the failure caps are exhausted (ErrGaveUp). It may be called
// once.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrClosed
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer close(s.done)
	defer close(s.events)
	defer cancel()

	bo := &backoff{initial: s.cfg.BackoffInitial, max: s.cfg.BackoffMax, factor: s.cfg.BackoffFactor}
	handshakeFailures, failedAttempts := 0, 0

	for {
		conn, sc, err := s.connect(ctx)
		if err == nil {
			handshakeFailures, failedAttempts = 0, 0
			bo.Reset()
			err = s.serve(ctx, conn, sc)
		} else {
			failedAttempts++
		}

		if ctx.Err() != nil {
			s.finish(nil)
			return nil
		}

		var hs *handshakeError
		if errors.As(err, &hs) {
			handshakeFailures++
			metrics.HandshakeFailures.Inc()
		}

		var fatal error
		switch {
		case errors.Is(err, errDoNotReconnect):
			fatal = err
		case handshakeFailures >= s.cfg.MaxHandshakeFailures:
			fatal = fmt.Errorf("%d consecutive handshake failures: %w", handshakeFailures, err)
		case s.cfg.MaxReconnectAttempts > 0 && failedAttempts >= s.cfg.MaxReconnectAttempts:
			fatal = fmt.Errorf("%d consecutive failed attempts: %w", failedAttempts, err)
		}
		if fatal != nil {
			fatal = fmt.Errorf("%w: %w", ErrGaveUp, fatal)
			s.log.WithError(fatal).Error("session gave up")
			s.finish(fatal)
			return fatal
		}

		delay := bo.Next()
		s.log.WithError(err).WithFields(logrus.Fields{
			"delay":              delay,
			"handshake_failures": handshakeFailures,
		}).Warn("connection lost, reconnecting")
		s.setState(ctx, Reconnecting, err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.finish(nil)
			return nil
		case <-t.C:
		}
		metrics.Reconnects.Inc()
	}
}

// finish publishes the terminal events. The consumer may already be gone, so
// delivery is bounded.
func (s *Session) finish(fatal error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if fatal != nil {
		s.emit(ctx, Event{Err: fatal, Fatal: true, At: time.Now(), Conn: s.currentConn()})
	}
	s.setState(ctx, Disconnected, nil)
}

func (s *Session) connect(ctx context.Context) (net.Conn, *bufio.Scanner, error) {
	s.mu.Lock()
	s.connID = id.New()
	s.mu.Unlock()

	s.setState(ctx, Connecting, nil)
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	s.setState(ctx, Handshaking, nil)
	sc, err := s.handshake(ctx, conn)
	if errors.Is(err, errEncodingRefused) && !s.skipEncoding {
		_ = conn.Close()
		s.skipEncoding = true
		s.log.Warn("server refused encoding negotiation, falling back to default encoding")

		if conn, err = s.dial(ctx); err != nil {
			return nil, nil, err
		}
		sc, err = s.handshake(ctx, conn)
	}
	if err != nil {
		_ = conn.Close()
		return nil, nil, &handshakeError{err: err}
	}
	return conn, sc, nil
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	conn, err := s.dialer.DialContext(dctx, "tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.Addr, err)
	}
	return conn, nil
}

func (s *Session) handshake(ctx context.Context, conn net.Conn) (*bufio.Scanner, error) {
	_ = conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer func() { _ = conn.SetDeadline(time.Time{}) }()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	sc := dtc.NewScanner(conn)

	if s.cfg.NegotiateEncoding && !s.skipEncoding {
		req := &dtc.EncodingRequest{
			ProtocolVersion: dtc.ProtocolVersion,
			Encoding:        dtc.EncodingJSON,
			ProtocolType:    "DTC",
		}
		if err := s.write(ctx, conn, req); err != nil {
			return nil, err
		}
		m, err := s.readOne(sc)
		if err != nil {
			if closedByPeer(err) {
				return nil, errEncodingRefused
			}
			return nil, fmt.Errorf("encoding: %w", err)
		}
		resp, ok := m.(*dtc.EncodingResponse)
		if !ok {
			return nil, fmt.Errorf("%w: %s during encoding negotiation", ErrUnexpectedKind, m.Kind())
		}
		if resp.Encoding != dtc.EncodingJSON {
			return nil, errEncodingRefused
		}
	}

	logon := &dtc.LogonRequest{
		ProtocolVersion:            dtc.ProtocolVersion,
		Username:                   s.cfg.Username,
		Password:                   s.cfg.Password,
		HeartbeatIntervalInSeconds: int(s.cfg.HeartbeatInterval / time.Second),
		TradeMode:                  s.cfg.TradeMode,
		TradeAccount:               s.cfg.Account,
		ClientName:                 s.cfg.ClientName,
	}
	if err := s.write(ctx, conn, logon); err != nil {
		return nil, err
	}
	m, err := s.readOne(sc)
	if err != nil {
		return nil, fmt.Errorf("logon: %w", err)
	}
	resp, ok := m.(*dtc.LogonResponse)
	if !ok {
		return nil, fmt.Errorf("%w: %s in reply to logon", ErrUnexpectedKind, m.Kind())
	}
	if resp.Result != dtc.LogonSuccess {
		return nil, fmt.Errorf("%w: result %d: %s", ErrLogonRejected, resp.Result, resp.ResultText)
	}

	s.log.WithFields(logrus.Fields{
		"server":   resp.ServerName,
		"encoding": !s.skipEncoding && s.cfg.NegotiateEncoding,
	}).Info("logged on")
	return sc, nil
}

// readOne returns the next decodable message, dropping malformed frames.
func (s *Session) readOne(sc *bufio.Scanner) (dtc.Message, error) {
	for sc.Scan() {
		m, err := dtc.Decode(sc.Bytes())
		if err != nil {
			s.dropFrame(err)
			continue
		}
		metrics.MessagesReceived.WithLabelValues(m.Kind().String()).Inc()
		return m, nil
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *Session) dropFrame(err error) {
	metrics.FramesDropped.Inc()
	s.log.WithError(err).Warn("dropping malformed frame")
}

func closedByPeer(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, dtc.ErrTruncated) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET)
}

// serve runs a READY connection until it fails or ctx ends.
func (s *Session) serve(ctx context.Context, conn net.Conn, sc *bufio.Scanner) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, func() { _ = conn.Close() })
	defer stop()

	s.mu.Lock()
	s.conn = conn
	s.pending = make(map[int]dtc.Kind)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.setState(ctx, Ready, nil)
	if s.cfg.InitialSync {
		go s.initialSync(connCtx)
	}
	return s.readLoop(ctx, conn, sc)
}

func (s *Session) readLoop(ctx context.Context, conn net.Conn, sc *bufio.Scanner) error {
	connID := s.currentConn()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
		if !sc.Scan() {
			err := sc.Err()
			if err == nil {
				err = io.EOF
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && ctx.Err() == nil {
				err = fmt.Errorf("%w: nothing received for %s", ErrWatchdog, s.cfg.HeartbeatTimeout)
			}
			return err
		}
		at := time.Now()

		m, err := dtc.Decode(sc.Bytes())
		if err != nil {
			s.dropFrame(err)
			continue
		}
		metrics.MessagesReceived.WithLabelValues(m.Kind().String()).Inc()

		s.emit(ctx, Event{Msg: m, At: at, Solicited: s.correlate(m), Conn: connID})

		if lo, ok := m.(*dtc.Logoff); ok {
			if lo.DoNotReconnect != 0 {
				return fmt.Errorf("%w: %s", errDoNotReconnect, lo.Reason)
			}
			return fmt.Errorf("server logoff: %s", lo.Reason)
		}
	}
}

// correlate reports whether m answers an outstanding request, retiring the
// request once its batch completes.
func (s *Session) correlate(m dtc.Message) bool {
	c, ok := m.(dtc.Correlated)
	if !ok || c.CorrelationID() == 0 {
		return false
	}
	rid := c.CorrelationID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[rid]; !ok {
		return false
	}
	if batchComplete(m) {
		delete(s.pending, rid)
	}
	return true
}

func batchComplete(m dtc.Message) bool {
	switch v := m.(type) {
	case *dtc.PositionUpdate:
		return v.LastInBatch()
	case *dtc.OrderUpdate:
		return v.NoOrders != 0 || v.TotalNumMessages == 0 || v.MessageNumber >= v.TotalNumMessages
	case *dtc.TradeAccountResponse:
		return v.TotalNumberMessages == 0 || v.MessageNumber >= v.TotalNumberMessages
	case *dtc.AccountBalanceUpdate:
		return v.NoAccountBalances != 0 || v.TotalNumberMessages == 0 || v.MessageNumber >= v.TotalNumberMessages
	default:
		return true
	}
}

func (s *Session) initialSync(ctx context.Context) {
	reqs := []func(context.Context) (int, error){
		s.RequestTradeAccounts,
		func(ctx context.Context) (int, error) { return s.RequestPositions(ctx, s.cfg.Account) },
		func(ctx context.Context) (int, error) { return s.RequestBalance(ctx, s.cfg.Account) },
	}
	for _, req := range reqs {
		if _, err := req(ctx); err != nil {
			if ctx.Err() == nil {
				s.log.WithError(err).Warn("initial sync request failed")
			}
			return
		}
	}
}

// Send writes m if the session is READY. Outbound requests are rate limited.
func (s *Session) Send(ctx context.Context, m dtc.Message) error {
	s.mu.Lock()
	conn, st := s.conn, s.state
	s.mu.Unlock()
	if st != Ready || conn == nil {
		return ErrNotReady
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.write(ctx, conn, m)
}

func (s *Session) write(ctx context.Context, conn net.Conn, m dtc.Message) error {
	b, err := dtc.Encode(m)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", m.Kind(), err)
	}
	return nil
}

func (s *Session) track(k dtc.Kind) int {
	rid := int(s.reqID.Add(1))
	s.mu.Lock()
	s.pending[rid] = k
	s.mu.Unlock()
	return rid
}

func (s *Session) untrack(rid int) {
	s.mu.Lock()
	delete(s.pending, rid)
	s.mu.Unlock()
}

func (s *Session) request(ctx context.Context, m dtc.Message, rid int) (int, error) {
	if err := s.Send(ctx, m); err != nil {
		s.untrack(rid)
		return 0, err
	}
	return rid, nil
}

// RequestTradeAccounts asks for the account list and returns the RequestID.
func (s *Session) RequestTradeAccounts(ctx context.Context) (int, error) {
	rid := s.track(dtc.KindTradeAccountsRequest)
	return s.request(ctx, &dtc.TradeAccountsRequest{RequestID: rid}, rid)
}

// RequestPositions asks for a position snapshot. An empty account asks for
// every account.
func (s *Session) RequestPositions(ctx context.Context, account string) (int, error) {
	rid := s.track(dtc.KindCurrentPositionsRequest)
	return s.request(ctx, &dtc.CurrentPositionsRequest{RequestID: rid, TradeAccount: account}, rid)
}

func (s *Session) RequestBalance(ctx context.Context, account string) (int, error) {
	rid := s.track(dtc.KindAccountBalanceRequest)
	return s.request(ctx, &dtc.AccountBalanceRequest{RequestID: rid, TradeAccount: account}, rid)
}

// Shutdown logs off if READY, stops Run and releases the socket. If ctx
// expires first the socket is force-closed.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conn, st, cancel, started := s.conn, s.state, s.cancel, s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	if st == Ready && conn != nil {
		if err := s.write(ctx, conn, &dtc.Logoff{Reason: "client shutdown"}); err != nil {
			s.log.WithError(err).Debug("logoff not sent")
		}
	}
	cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		if conn != nil {
			_ = conn.Close()
		}
		return fmt.Errorf("session shutdown: %w", ctx.Err())
	}
}

func (s *Session) currentConn() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

func (s *Session) setState(ctx context.Context, st State, cause error) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = st
	connID := s.connID
	s.mu.Unlock()

	metrics.SetSessionState(string(st), allStates)
	s.log.WithFields(logrus.Fields{"from": prev, "to": st, "conn": connID}).Debug("session state")
	s.emit(ctx, Event{State: st, Err: cause, At: time.Now(), Conn: connID})
}

// emit blocks while the consumer is behind, preserving order, until ctx
// ends.
func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
		s.log.WithField("state", ev.State).Debug("event dropped after cancellation")
	}
}
