package session

import "time"

type Config struct {
	Addr       string
	Username   string
	Password   string
	ClientName string
	// Account is the trade account requested on READY. Empty requests all.
	Account   string
	TradeMode int

	HeartbeatInterval time.Duration
	// HeartbeatTimeout closes a READY connection that has received nothing
	// for this long. Zero uses three heartbeat intervals.
	HeartbeatTimeout time.Duration
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	NegotiateEncoding bool

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// MaxHandshakeFailures is the number of consecutive failed handshakes
	// before the session gives up. MaxReconnectAttempts caps consecutive
	// failed attempts of any kind; zero means unlimited.
	MaxHandshakeFailures int
	MaxReconnectAttempts int

	RequestRate  float64
	RequestBurst int

	// InitialSync issues trade-account, position and balance requests on
	// every READY.
	InitialSync bool

	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		Addr:                 "127.0.0.1:11099",
		ClientName:           "dtcterm",
		HeartbeatInterval:    5 * time.Second,
		DialTimeout:          5 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		NegotiateEncoding:    true,
		BackoffInitial:       time.Second,
		BackoffMax:           30 * time.Second,
		BackoffFactor:        2,
		MaxHandshakeFailures: 10,
		RequestRate:          10,
		RequestBurst:         5,
		InitialSync:          true,
		EventBuffer:          1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.ClientName == "" {
		c.ClientName = d.ClientName
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 3 * c.HeartbeatInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = d.BackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = c.BackoffInitial
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.MaxHandshakeFailures <= 0 {
		c.MaxHandshakeFailures = d.MaxHandshakeFailures
	}
	if c.RequestRate <= 0 {
		c.RequestRate = d.RequestRate
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = d.RequestBurst
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}
