// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package config loads Roomsync configuration from defaults, an optional YAML
// file and environment variables (in increasing priority) using Koanf v2.
package config

import (
	"time"
)

// Store backends.
const (
	BackendManaged = "managed"
	BackendLocal   = "local"
	BackendMock    = "mock"
)

// Ledger drivers.
const (
	LedgerDuckDB   = "duckdb"
	LedgerPostgres = "postgres"
)

// Relay backends.
const (
	RelayNone      = "none"
	RelayNATS      = "nats"
	RelayWatermill = "watermill"
	RelayKafka     = "kafka"
)

// Identity modes.
const (
	IdentityJWT    = "jwt"
	IdentityHeader = "header"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	Keyspace   KeyspaceConfig   `koanf:"keyspace"`
	Credits    CreditsConfig    `koanf:"credits"`
	Capacity   CapacityConfig   `koanf:"capacity"`
	Ledger     LedgerConfig     `koanf:"ledger"`
	Relay      RelayConfig      `koanf:"relay"`
	Identity   IdentityConfig   `koanf:"identity"`
	WebSocket  WebSocketConfig  `koanf:"websocket"`
	API        APIConfig        `koanf:"api"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // development, staging, production
}

// IsProduction reports whether the server runs with production safeguards.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes file:line in logs.
	Caller bool `koanf:"caller"`
}

// StoreConfig selects and configures the ephemeral state backend.
// Backend is always explicit; there is no silent fallback to mock.
type StoreConfig struct {
	Backend string       `koanf:"backend"`
	Redis   RedisConfig  `koanf:"redis"`
	Badger  BadgerConfig `koanf:"badger"`
}

type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Username     string        `koanf:"username"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	ScanCount    int64         `koanf:"scan_count"`
}

type BadgerConfig struct {
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// KeyspaceConfig holds the key prefix and per-kind TTLs.
type KeyspaceConfig struct {
	Prefix      string        `koanf:"prefix"`
	PresenceTTL time.Duration `koanf:"presence_ttl"`
	TypingTTL   time.Duration `koanf:"typing_ttl"`
	ReceiptTTL  time.Duration `koanf:"receipt_ttl"`
	CreditTTL   time.Duration `koanf:"credit_ttl"`
	MessageTTL  time.Duration `koanf:"message_ttl"`
}

// PlanConfig is the pricing contract supplied by the billing collaborator.
type PlanConfig struct {
	InputRatePer1K  float64 `koanf:"input_rate_per_1k"`
	OutputRatePer1K float64 `koanf:"output_rate_per_1k"`
	ProfitMargin    float64 `koanf:"profit_margin"`
	CreditToUSDRate float64 `koanf:"credit_to_usd_rate"`
}

type CreditsConfig struct {
	DefaultPlan string                `koanf:"default_plan"`
	Plans       map[string]PlanConfig `koanf:"plans"`
	Sync        CreditSyncConfig      `koanf:"sync"`
}

type CreditSyncConfig struct {
	Interval      time.Duration `koanf:"interval"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
	UserTimeout   time.Duration `koanf:"user_timeout"`
	Concurrency   int           `koanf:"concurrency"`
}

type CapacityConfig struct {
	MaxMessagesPerSession int           `koanf:"max_messages_per_session"`
	Threshold             float64       `koanf:"threshold"`
	CheckInterval         time.Duration `koanf:"check_interval"`
	SyncInterval          time.Duration `koanf:"sync_interval"`
	RetainMessages        int           `koanf:"retain_messages"`
	FlushTimeout          time.Duration `koanf:"flush_timeout"`
}

type LedgerConfig struct {
	Driver   string         `koanf:"driver"`
	DuckDB   DuckDBConfig   `koanf:"duckdb"`
	Postgres PostgresConfig `koanf:"postgres"`
}

type DuckDBConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
}

// RelayConfig configures cross-node fan-out of room events.
type RelayConfig struct {
	Backend       string      `koanf:"backend"`
	NodeID        string      `koanf:"node_id"` // generated at startup when empty
	SubjectPrefix string      `koanf:"subject_prefix"`
	NATS          NATSConfig  `koanf:"nats"`
	Kafka         KafkaConfig `koanf:"kafka"`
}

// UsesNATS reports whether the backend talks to a NATS server.
func (r RelayConfig) UsesNATS() bool {
	return r.Backend == RelayNATS || r.Backend == RelayWatermill
}

type NATSConfig struct {
	URL            string        `koanf:"url"`
	Name           string        `koanf:"name"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	PublishTimeout time.Duration `koanf:"publish_timeout"`

	// Embedded starts an in-process NATS server and connects to it, for
	// single-host deployments running several nodes.
	Embedded     bool   `koanf:"embedded"`
	EmbeddedHost string `koanf:"embedded_host"`
	EmbeddedPort int    `koanf:"embedded_port"`
}

type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type IdentityConfig struct {
	Mode      string `koanf:"mode"`
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	Header    string `koanf:"header"`
}

type WebSocketConfig struct {
	SendBuffer     int      `koanf:"send_buffer"`
	MaxMessageSize int64    `koanf:"max_message_size"`
	CommandRate    float64  `koanf:"command_rate"`
	CommandBurst   int      `koanf:"command_burst"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type APIConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	DefaultPageSize   int           `koanf:"default_page_size"`
	MaxPageSize       int           `koanf:"max_page_size"`
}

type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Plan returns the named pricing plan, falling back to the default plan.
func (c *CreditsConfig) Plan(name string) (PlanConfig, bool) {
	if p, ok := c.Plans[name]; ok {
		return p, true
	}
	p, ok := c.Plans[c.DefaultPlan]
	return p, ok
}

// Load reads configuration from all sources and validates it.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
