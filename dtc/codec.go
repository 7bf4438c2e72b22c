package dtc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks a frame whose payload could not be parsed. Callers log
// and drop such frames; they are never fatal to a session.
var ErrMalformed = errors.New("dtc: malformed frame")

// decoders is the single kind→constructor lookup used by Decode.
var decoders = map[Kind]func() Message{
	KindLogonRequest:            func() Message { return &LogonRequest{} },
	KindLogonResponse:           func() Message { return &LogonResponse{} },
	KindHeartbeat:               func() Message { return &Heartbeat{} },
	KindEncodingRequest:         func() Message { return &EncodingRequest{} },
	KindEncodingResponse:        func() Message { return &EncodingResponse{} },
	KindLogoff:                  func() Message { return &Logoff{} },
	KindOrderUpdate:             func() Message { return &OrderUpdate{} },
	KindPositionUpdate:          func() Message { return &PositionUpdate{} },
	KindTradeAccountsRequest:    func() Message { return &TradeAccountsRequest{} },
	KindTradeAccountResponse:    func() Message { return &TradeAccountResponse{} },
	KindCurrentPositionsRequest: func() Message { return &CurrentPositionsRequest{} },
	KindAccountBalanceUpdate:    func() Message { return &AccountBalanceUpdate{} },
	KindAccountBalanceRequest:   func() Message { return &AccountBalanceRequest{} },
	KindAccountBalanceUpdateAlt: func() Message { return &AccountBalanceUpdate{} },
}

// Decode parses one frame (without its NUL terminator). Kinds with no
// decoder come back as *Unknown rather than an error.
func Decode(frame []byte) (Message, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var h Header
	if err := json.Unmarshal(frame, &h); err != nil {
		return nil, fmt.Errorf("%w: %v (frame=%q)", ErrMalformed, err, trimForErr(frame))
	}

	newMsg, ok := decoders[h.Type]
	if !ok {
		return &Unknown{Type: h.Type, Raw: append([]byte(nil), frame...)}, nil
	}

	m := newMsg()
	if err := json.Unmarshal(frame, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, h.Type, err)
	}
	return m, nil
}

// Encode renders m as JSON followed by the NUL terminator. Pointer messages
// get their Type field stamped from Kind().
func Encode(m Message) ([]byte, error) {
	if s, ok := m.(interface{ setType(Kind) }); ok {
		s.setType(m.Kind())
	}
	if u, ok := m.(*Unknown); ok {
		return append(append([]byte(nil), u.Raw...), 0), nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return append(b, 0), nil
}

func trimForErr(b []byte) string {
	const n = 200
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
