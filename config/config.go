package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/dtc"
	"github.com/rustyeddy/dtcterm/engine"
	"github.com/rustyeddy/dtcterm/health"
	"github.com/rustyeddy/dtcterm/session"
)

// Config represents the complete terminal configuration
type Config struct {
	Session  SessionConfig  `json:"session" yaml:"session"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Health   HealthConfig   `json:"health" yaml:"health"`
	Equity   EquityConfig   `json:"equity" yaml:"equity"`
	Recovery RecoveryConfig `json:"recovery" yaml:"recovery"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// SessionConfig describes the DTC server connection
type SessionConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	ClientName string `json:"client_name" yaml:"client_name"`
	Account    string `json:"account,omitempty" yaml:"account,omitempty"`

	HeartbeatInterval Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  Duration `json:"heartbeat_timeout,omitempty" yaml:"heartbeat_timeout,omitempty"`
	DialTimeout       Duration `json:"dial_timeout" yaml:"dial_timeout"`
	HandshakeTimeout  Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	NegotiateEncoding bool     `json:"negotiate_encoding" yaml:"negotiate_encoding"`

	BackoffInitial       Duration `json:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax           Duration `json:"backoff_max" yaml:"backoff_max"`
	BackoffFactor        float64  `json:"backoff_factor" yaml:"backoff_factor"`
	MaxHandshakeFailures int      `json:"max_handshake_failures" yaml:"max_handshake_failures"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts,omitempty" yaml:"max_reconnect_attempts,omitempty"`

	RequestRate  float64 `json:"request_rate" yaml:"request_rate"`
	RequestBurst int     `json:"request_burst" yaml:"request_burst"`
}

// EngineConfig contains event-loop parameters
type EngineConfig struct {
	// Mode applies to accounts not recognized as simulated.
	Mode          string   `json:"mode" yaml:"mode"`
	Tick          Duration `json:"tick" yaml:"tick"`
	PublishBuffer int      `json:"publish_buffer" yaml:"publish_buffer"`
}

// HealthConfig holds the stoplight thresholds
type HealthConfig struct {
	HeartbeatGreen  Duration `json:"heartbeat_green" yaml:"heartbeat_green"`
	HeartbeatYellow Duration `json:"heartbeat_yellow" yaml:"heartbeat_yellow"`
	DataGreen       Duration `json:"data_green" yaml:"data_green"`
	DataYellow      Duration `json:"data_yellow" yaml:"data_yellow"`
}

type EquityConfig struct {
	Capacity      int      `json:"capacity" yaml:"capacity"`
	FlushInterval Duration `json:"flush_interval" yaml:"flush_interval"`
}

type RecoveryConfig struct {
	MaxAge Duration `json:"max_age" yaml:"max_age"`
}

// JournalConfig contains persistence parameters
type JournalConfig struct {
	DBPath    string `json:"db_path" yaml:"db_path"`
	QueueSize int    `json:"queue_size" yaml:"queue_size"`
}

// ServerConfig enables the HTTP surface when Addr is set
type ServerConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Unset fields keep their defaults.
	cfg := Default()

	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file may hold credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// LoadDotEnv loads variables from .env style files into the process
// environment. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays connection settings from DTC_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("DTC_HOST"); v != "" {
		c.Session.Host = v
	}
	if v := os.Getenv("DTC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DTC_PORT: %w", err)
		}
		c.Session.Port = port
	}
	if v := os.Getenv("DTC_USERNAME"); v != "" {
		c.Session.Username = v
	}
	if v := os.Getenv("DTC_PASSWORD"); v != "" {
		c.Session.Password = v
	}
	if v := os.Getenv("DTC_ACCOUNT"); v != "" {
		c.Session.Account = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	s := c.Session
	if s.Host == "" {
		return fmt.Errorf("session.host is required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("session.port must be between 1 and 65535")
	}
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("session.heartbeat_interval must be positive")
	}
	if s.HeartbeatTimeout < 0 {
		return fmt.Errorf("session.heartbeat_timeout must not be negative")
	}
	if s.DialTimeout <= 0 || s.HandshakeTimeout <= 0 {
		return fmt.Errorf("session dial and handshake timeouts must be positive")
	}
	if s.BackoffInitial <= 0 || s.BackoffMax < s.BackoffInitial {
		return fmt.Errorf("session.backoff_max must be at least backoff_initial")
	}
	if s.BackoffFactor < 1 {
		return fmt.Errorf("session.backoff_factor must be at least 1")
	}
	if s.MaxHandshakeFailures <= 0 {
		return fmt.Errorf("session.max_handshake_failures must be positive")
	}
	if s.MaxReconnectAttempts < 0 {
		return fmt.Errorf("session.max_reconnect_attempts must not be negative")
	}
	if s.RequestRate <= 0 || s.RequestBurst <= 0 {
		return fmt.Errorf("session request_rate and request_burst must be positive")
	}

	if _, err := broker.ParseMode(c.Engine.Mode); err != nil {
		return fmt.Errorf("engine.mode: %w", err)
	}
	if c.Engine.Tick <= 0 {
		return fmt.Errorf("engine.tick must be positive")
	}

	h := c.Health
	if h.HeartbeatGreen <= 0 || h.HeartbeatYellow < h.HeartbeatGreen {
		return fmt.Errorf("health heartbeat thresholds must satisfy 0 < green <= yellow")
	}
	if h.DataGreen <= 0 || h.DataYellow < h.DataGreen {
		return fmt.Errorf("health data thresholds must satisfy 0 < green <= yellow")
	}

	if c.Equity.Capacity <= 0 {
		return fmt.Errorf("equity.capacity must be positive")
	}
	if c.Equity.FlushInterval <= 0 {
		return fmt.Errorf("equity.flush_interval must be positive")
	}
	if c.Recovery.MaxAge <= 0 {
		return fmt.Errorf("recovery.max_age must be positive")
	}
	if c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path is required")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			Host:                 "127.0.0.1",
			Port:                 11099,
			ClientName:           "dtcterm",
			HeartbeatInterval:    Duration(5 * time.Second),
			DialTimeout:          Duration(5 * time.Second),
			HandshakeTimeout:     Duration(10 * time.Second),
			NegotiateEncoding:    true,
			BackoffInitial:       Duration(time.Second),
			BackoffMax:           Duration(30 * time.Second),
			BackoffFactor:        2,
			MaxHandshakeFailures: 10,
			RequestRate:          10,
			RequestBurst:         5,
		},
		Engine: EngineConfig{
			Mode:          string(broker.ModeLive),
			Tick:          Duration(time.Second),
			PublishBuffer: 1024,
		},
		Health: HealthConfig{
			HeartbeatGreen:  Duration(5 * time.Second),
			HeartbeatYellow: Duration(10 * time.Second),
			DataGreen:       Duration(5 * time.Second),
			DataYellow:      Duration(15 * time.Second),
		},
		Equity: EquityConfig{
			Capacity:      5000,
			FlushInterval: Duration(10 * time.Second),
		},
		Recovery: RecoveryConfig{
			MaxAge: Duration(24 * time.Hour),
		},
		Journal: JournalConfig{
			DBPath:    "./dtcterm.sqlite",
			QueueSize: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Addr is the host:port of the DTC server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Session.Host, strconv.Itoa(c.Session.Port))
}

// Mode is the engine's default trading mode. Validate has already checked it.
func (c *Config) Mode() broker.Mode {
	m, err := broker.ParseMode(c.Engine.Mode)
	if err != nil {
		return broker.ModeLive
	}
	return m
}

// SessionConfig translates the session section for session.New.
func (c *Config) SessionConfig() session.Config {
	s := c.Session
	tradeMode := dtc.TradeModeLive
	switch c.Mode() {
	case broker.ModeSim:
		tradeMode = dtc.TradeModeSimulated
	case broker.ModeDebug:
		tradeMode = dtc.TradeModeDemo
	}
	return session.Config{
		Addr:                 c.Addr(),
		Username:             s.Username,
		Password:             s.Password,
		ClientName:           s.ClientName,
		Account:              s.Account,
		TradeMode:            tradeMode,
		HeartbeatInterval:    s.HeartbeatInterval.D(),
		HeartbeatTimeout:     s.HeartbeatTimeout.D(),
		DialTimeout:          s.DialTimeout.D(),
		HandshakeTimeout:     s.HandshakeTimeout.D(),
		NegotiateEncoding:    s.NegotiateEncoding,
		BackoffInitial:       s.BackoffInitial.D(),
		BackoffMax:           s.BackoffMax.D(),
		BackoffFactor:        s.BackoffFactor,
		MaxHandshakeFailures: s.MaxHandshakeFailures,
		MaxReconnectAttempts: s.MaxReconnectAttempts,
		RequestRate:          s.RequestRate,
		RequestBurst:         s.RequestBurst,
		InitialSync:          true,
	}
}

// EngineConfig translates the engine, health and equity sections.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		DefaultMode: c.Mode(),
		Health: health.Thresholds{
			HeartbeatGreen:  c.Health.HeartbeatGreen.D(),
			HeartbeatYellow: c.Health.HeartbeatYellow.D(),
			DataGreen:       c.Health.DataGreen.D(),
			DataYellow:      c.Health.DataYellow.D(),
		},
		TickInterval:   c.Engine.Tick.D(),
		EquityCapacity: c.Equity.Capacity,
		FlushInterval:  c.Equity.FlushInterval.D(),
		PublishBuffer:  c.Engine.PublishBuffer,
	}
}
