package session

import (
	"errors"
	"time"

	"github.com/rustyeddy/dtcterm/dtc"
)

type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Handshaking  State = "HANDSHAKING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
)

var allStates = []string{
	string(Disconnected),
	string(Connecting),
	string(Handshaking),
	string(Ready),
	string(Reconnecting),
}

var (
	ErrNotReady       = errors.New("session: not ready")
	ErrLogonRejected  = errors.New("session: logon rejected")
	ErrUnexpectedKind = errors.New("session: unexpected message kind")
	ErrGaveUp         = errors.New("session: giving up")
	ErrClosed         = errors.New("session: closed")
	ErrWatchdog       = errors.New("session: heartbeat watchdog expired")

	errEncodingRefused = errors.New("session: encoding negotiation refused")
	errDoNotReconnect  = errors.New("session: server asked not to reconnect")
)

// handshakeError marks failures after the socket connected but before READY.
type handshakeError struct{ err error }

func (e *handshakeError) Error() string { return "handshake: " + e.err.Error() }
func (e *handshakeError) Unwrap() error { return e.err }

// Event is emitted in arrival order on Session.Events. Exactly one of Msg
// or State is set, except for fatal events which carry only Err.
type Event struct {
	Msg   dtc.Message
	State State
	Err   error
	// Fatal events end the session; the operator must intervene.
	Fatal bool
	// Solicited marks a message whose RequestID matched an outstanding
	// request on this connection.
	Solicited bool
	At        time.Time
	// Conn identifies the connection attempt the event belongs to.
	Conn string
}

type backoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	next    time.Duration
}

func (b *backoff) Next() time.Duration {
	d := b.next
	if d == 0 {
		d = b.initial
	}
	if d > b.max {
		d = b.max
	}
	n := time.Duration(float64(d) * b.factor)
	if n > b.max {
		n = b.max
	}
	b.next = n
	return d
}

func (b *backoff) Reset() { b.next = 0 }
