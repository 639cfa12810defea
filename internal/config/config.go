// Package config defines the server configuration. Values come from a TOML
// file layered over Defaults and then from PARIMUTUEL_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Auth     AuthConfig     `toml:"auth"`
	Exchange ExchangeConfig `toml:"exchange"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty DSN runs
// the server without persistence.
type DatabaseConfig struct {
	DSN      string `toml:"dsn"`
	MaxConns int    `toml:"max_conns"`
	MinConns int    `toml:"min_conns"`
}

// RedisConfig holds the activity pub/sub connection
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// KafkaConfig holds the activity topic. Kafka runs alongside Redis, not instead of it.
type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// AuthConfig holds token signing parameters
type AuthConfig struct {
	JWTSecret     string   `toml:"jwt_secret"`
	TokenTTL      duration `toml:"token_ttl"`
	OwnerPassword string   `toml:"owner_password"` // empty leaves the owner account unprovisioned
}

// ExchangeConfig holds the engine's administrative settings
type ExchangeConfig struct {
	Owner          string `toml:"owner"`
	Treasury       string `toml:"treasury"`
	FeePercent     int64  `toml:"fee_percent"`
	InitialBalance int64  `toml:"initial_balance"` // credited to each newly registered bettor
}

// duration wraps time.Duration for TOML strings such as "24h"
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with development defaults
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000"},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			MaxConns: 10,
			MinConns: 1,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "parimutuel:activity",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "parimutuel.activity",
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-me",
			TokenTTL:  duration{24 * time.Hour},
		},
		Exchange: ExchangeConfig{
			Owner:          "admin",
			Treasury:       "treasury",
			FeePercent:     5,
			InitialBalance: 1000,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.DSN != "" && (c.Database.MaxConns <= 0 || c.Database.MinConns > c.Database.MaxConns) {
		errs = append(errs, "database: max_conns must be positive and at least min_conns")
	}
	if c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Channel == "") {
		errs = append(errs, "redis: addr and channel are required when enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, "kafka: brokers and topic are required when enabled")
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth: jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be positive")
	}
	if c.Exchange.Owner == "" || c.Exchange.Treasury == "" {
		errs = append(errs, "exchange: owner and treasury must not be empty")
	}
	if c.Exchange.FeePercent < 0 || c.Exchange.FeePercent > 100 {
		errs = append(errs, fmt.Sprintf("exchange: fee_percent must be 0-100, got %d", c.Exchange.FeePercent))
	}
	if c.Exchange.InitialBalance < 0 {
		errs = append(errs, "exchange: initial_balance must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TTL returns the configured token lifetime
func (a AuthConfig) TTL() time.Duration { return a.TokenTTL.Duration }

// Timeout returns the graceful shutdown deadline
func (s ServerConfig) Timeout() time.Duration { return s.ShutdownTimeout.Duration }
