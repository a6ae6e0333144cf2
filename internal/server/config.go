// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/wsrelay/internal/message"
	"github.com/Tyrowin/wsrelay/internal/registry"
)

// Mode selects how inbound frames are relayed.
type Mode string

const (
	// ModeEnvelope assigns identities, decodes JSON envelopes and excludes the sender.
	ModeEnvelope Mode = "envelope"
	// ModeRaw relays opaque text frames verbatim to every client, sender included.
	ModeRaw Mode = "raw"
)

// ID strategies for CLIENT_ID_STRATEGY.
const (
	IDStrategyUUID     = "uuid"
	IDStrategySequence = "sequence"
)

const (
	defaultPort           = ":3001"
	defaultSubprotocol    = "sample-protocol"
	defaultMaxMessageSize = 4096
	defaultSendBuffer     = 256
	defaultWriteTimeout   = 10 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultPingInterval   = 54 * time.Second
	defaultShutdown       = 10 * time.Second
)

// RateLimitConfig defines per-connection message rate limiting. A Burst of
// zero, the default, disables it.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay settings.
type Config struct {
	Port            string
	Mode            Mode
	Subprotocol     string
	EmptyText       message.EmptyTextPolicy
	IDStrategy      string
	AllowedOrigins  []string
	MaxMessageSize  int64
	SendBufferSize  int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       RateLimitConfig
	LogLevel        string
	LogFormat       string
}

func defaultConfig() Config {
	return Config{
		Port:            defaultPort,
		Mode:            ModeEnvelope,
		Subprotocol:     defaultSubprotocol,
		EmptyText:       message.EmptyTextRelay,
		IDStrategy:      IDStrategyUUID,
		AllowedOrigins:  []string{"*"},
		MaxMessageSize:  defaultMaxMessageSize,
		SendBufferSize:  defaultSendBuffer,
		WriteTimeout:    defaultWriteTimeout,
		PongTimeout:     defaultPongTimeout,
		PingInterval:    defaultPingInterval,
		ShutdownTimeout: defaultShutdown,
		RateLimit:       RateLimitConfig{RefillInterval: time.Second},
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Sanitize replaces unset or invalid fields with defaults and returns the result.
// Subprotocol is left as is: empty disables the handshake check.
func (c Config) Sanitize() Config {
	def := defaultConfig()

	c.Port = normalizePort(c.Port)

	if c.Mode != ModeEnvelope && c.Mode != ModeRaw {
		c.Mode = def.Mode
	}

	if c.EmptyText != message.EmptyTextRelay && c.EmptyText != message.EmptyTextDrop {
		c.EmptyText = def.EmptyText
	}

	if c.IDStrategy != IDStrategyUUID && c.IDStrategy != IDStrategySequence {
		c.IDStrategy = def.IDStrategy
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.RateLimit.Burst < 0 {
		c.RateLimit.Burst = 0
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	return c
}

// IDGenerator returns the client ID generator selected by IDStrategy.
func (c Config) IDGenerator() registry.IDGenerator {
	if c.IDStrategy == IDStrategySequence {
		return registry.NewSequenceGenerator()
	}
	return registry.UUIDGenerator{}
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if mode := os.Getenv("RELAY_MODE"); mode != "" {
		cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(mode)))
	}

	if proto, ok := os.LookupEnv("WS_SUBPROTOCOL"); ok {
		cfg.Subprotocol = strings.TrimSpace(proto)
	}

	if policy := os.Getenv("EMPTY_TEXT_POLICY"); policy != "" {
		if p, err := message.ParseEmptyTextPolicy(policy); err == nil {
			cfg.EmptyText = p
		}
	}

	if strategy := os.Getenv("CLIENT_ID_STRATEGY"); strategy != "" {
		cfg.IDStrategy = strings.ToLower(strings.TrimSpace(strategy))
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}

	if timeout := os.Getenv("WRITE_TIMEOUT"); timeout != "" {
		cfg.WriteTimeout = parseSeconds(timeout, cfg.WriteTimeout)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	sanitized := cfg.Sanitize()
	return &sanitized
}

// normalizePort accepts "3001" or ":3001" and host:port forms.
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return defaultPort
	}
	if _, err := strconv.Atoi(port); err == nil {
		return ":" + port
	}
	return port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
