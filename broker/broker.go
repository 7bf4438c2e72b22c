package broker

import (
	"fmt"
	"strings"
)

// Mode scopes positions, orders and equity curves. Scopes are never mixed.
type Mode string

const (
	ModeDebug Mode = "DEBUG"
	ModeSim   Mode = "SIM"
	ModeLive  Mode = "LIVE"
)

// ParseMode accepts any casing of DEBUG, SIM or LIVE.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeDebug:
		return ModeDebug, nil
	case ModeSim:
		return ModeSim, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want DEBUG|SIM|LIVE)", s)
	}
}

// DetectMode returns SIM for simulated trade accounts ("Sim1", "SIM-002")
// and def for everything else.
func DetectMode(account string, def Mode) Mode {
	if strings.HasPrefix(strings.ToLower(account), "sim") {
		return ModeSim
	}
	return def
}

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// SideFromDTC maps the protocol BuySell code (1 buy, 2 sell).
func SideFromDTC(code int) (Side, bool) {
	switch code {
	case 1:
		return Buy, true
	case 2:
		return Sell, true
	default:
		return "", false
	}
}

// Scope identifies one (mode, account) partition of engine state.
type Scope struct {
	Mode    Mode   `json:"mode"`
	Account string `json:"account"`
}

func (s Scope) String() string {
	return string(s.Mode) + "/" + s.Account
}
