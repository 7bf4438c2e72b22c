// Package dtc models the subset of the DTC trading protocol this terminal
// speaks: JSON-encoded messages, each terminated by a single NUL byte.
package dtc

import "strconv"

// Kind is the protocol message type carried in every message's "Type" field.
type Kind int

const (
	KindLogonRequest     Kind = 1
	KindLogonResponse    Kind = 2
	KindHeartbeat        Kind = 3
	KindEncodingRequest  Kind = 5
	KindEncodingResponse Kind = 6
	KindLogoff           Kind = 7

	KindOrderUpdate    Kind = 301
	KindPositionUpdate Kind = 306

	KindTradeAccountsRequest Kind = 400
	KindTradeAccountResponse Kind = 401

	KindCurrentPositionsRequest Kind = 500

	KindAccountBalanceUpdate  Kind = 600
	KindAccountBalanceRequest Kind = 601
	// Some servers answer balance requests with 602 instead of 600.
	KindAccountBalanceUpdateAlt Kind = 602
)

var kindNames = map[Kind]string{
	KindLogonRequest:            "LOGON_REQUEST",
	KindLogonResponse:           "LOGON_RESPONSE",
	KindHeartbeat:               "HEARTBEAT",
	KindEncodingRequest:         "ENCODING_REQUEST",
	KindEncodingResponse:        "ENCODING_RESPONSE",
	KindLogoff:                  "LOGOFF",
	KindOrderUpdate:             "ORDER_UPDATE",
	KindPositionUpdate:          "POSITION_UPDATE",
	KindTradeAccountsRequest:    "TRADE_ACCOUNTS_REQUEST",
	KindTradeAccountResponse:    "TRADE_ACCOUNT_RESPONSE",
	KindCurrentPositionsRequest: "CURRENT_POSITIONS_REQUEST",
	KindAccountBalanceUpdate:    "ACCOUNT_BALANCE_UPDATE",
	KindAccountBalanceRequest:   "ACCOUNT_BALANCE_REQUEST",
	KindAccountBalanceUpdateAlt: "ACCOUNT_BALANCE_UPDATE_ALT",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "KIND_" + strconv.Itoa(int(k))
}

// Known reports whether the engine models this kind.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// Encoding values used in encoding negotiation.
type Encoding int

const (
	EncodingBinary      Encoding = 0
	EncodingBinaryVLS   Encoding = 1
	EncodingJSON        Encoding = 2
	EncodingJSONCompact Encoding = 3
	EncodingProtobuf    Encoding = 4
)

// ProtocolVersion is the DTC protocol version sent in logon and encoding requests.
const ProtocolVersion = 8

// LogonSuccess is the LogonResponse.Result value for an accepted logon.
const LogonSuccess = 1

// Trade modes sent in the logon request.
const (
	TradeModeDemo      = 1
	TradeModeSimulated = 2
	TradeModeLive      = 3
)
