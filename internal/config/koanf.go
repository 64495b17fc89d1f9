// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/roomsync/config.yaml",
	"/etc/roomsync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8420,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Store: StoreConfig{
			Backend: BackendManaged,
			Redis: RedisConfig{
				Addr:         "127.0.0.1:6379",
				DB:           0,
				PoolSize:     20,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  2 * time.Second,
				WriteTimeout: 2 * time.Second,
				ScanCount:    200,
			},
			Badger: BadgerConfig{
				Path:       "/data/roomsync/state",
				InMemory:   false,
				SyncWrites: false,
				GCInterval: 10 * time.Minute,
			},
		},
		Keyspace: KeyspaceConfig{
			Prefix:      "roomsync",
			PresenceTTL: 2 * time.Minute,
			TypingTTL:   30 * time.Second,
			ReceiptTTL:  24 * time.Hour,
			CreditTTL:   time.Hour,
			MessageTTL:  24 * time.Hour,
		},
		Credits: CreditsConfig{
			DefaultPlan: "standard",
			Plans: map[string]PlanConfig{
				"standard": {
					InputRatePer1K:  0.003,
					OutputRatePer1K: 0.015,
					ProfitMargin:    1.5,
					CreditToUSDRate: 0.001,
				},
			},
			Sync: CreditSyncConfig{
				Interval:      5 * time.Minute,
				RetryAttempts: 3,
				RetryDelay:    2 * time.Second,
				UserTimeout:   30 * time.Second,
				Concurrency:   4,
			},
		},
		Capacity: CapacityConfig{
			MaxMessagesPerSession: 500,
			Threshold:             0.8,
			CheckInterval:         time.Minute,
			SyncInterval:          5 * time.Minute,
			RetainMessages:        100,
			FlushTimeout:          time.Minute,
		},
		Ledger: LedgerConfig{
			Driver: LedgerDuckDB,
			DuckDB: DuckDBConfig{
				Path:      "/data/roomsync/ledger.duckdb",
				MaxMemory: "1GB",
				Threads:   0,
			},
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
		},
		Relay: RelayConfig{
			Backend:       RelayNone,
			SubjectPrefix: "roomsync",
			NATS: NATSConfig{
				URL:            "nats://127.0.0.1:4222",
				Name:           "roomsync",
				ReconnectWait:  2 * time.Second,
				MaxReconnects:  -1,
				PublishTimeout: 5 * time.Second,
				Embedded:       false,
				EmbeddedHost:   "127.0.0.1",
				EmbeddedPort:   4222,
			},
			Kafka: KafkaConfig{
				Brokers: []string{"127.0.0.1:9092"},
				Topic:   "roomsync.events",
			},
		},
		Identity: IdentityConfig{
			Mode:   IdentityJWT,
			Issuer: "",
			Header: "X-User-ID",
		},
		WebSocket: WebSocketConfig{
			SendBuffer:     256,
			MaxMessageSize: 64 * 1024,
			CommandRate:    20,
			CommandBurst:   40,
			AllowedOrigins: []string{},
		},
		API: APIConfig{
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			DefaultPageSize:   20,
			MaxPageSize:       100,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in defaults
//  2. Config File: optional YAML config file (if exists)
//  3. Environment Variables: override any mapped setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// REDIS_ADDR -> store.redis.addr, CREDIT_SYNC_INTERVAL -> credits.sync.interval
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns CONFIG_PATH if it exists, else the first existing
// default path, else "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"relay.kafka.brokers",
	"websocket.allowed_origins",
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings while YAML lists are already slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lowercased environment variable names to koanf paths.
// Unmapped variables are ignored so unrelated environment never leaks into config.
var envMappings = map[string]string{
	// Server
	"http_port":        "server.port",
	"http_host":        "server.host",
	"http_timeout":     "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"environment":      "server.environment",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Ephemeral store
	"store_backend":       "store.backend",
	"redis_addr":          "store.redis.addr",
	"redis_username":      "store.redis.username",
	"redis_password":      "store.redis.password",
	"redis_db":            "store.redis.db",
	"redis_pool_size":     "store.redis.pool_size",
	"redis_dial_timeout":  "store.redis.dial_timeout",
	"redis_read_timeout":  "store.redis.read_timeout",
	"redis_write_timeout": "store.redis.write_timeout",
	"redis_scan_count":    "store.redis.scan_count",
	"badger_path":         "store.badger.path",
	"badger_in_memory":    "store.badger.in_memory",
	"badger_sync_writes":  "store.badger.sync_writes",
	"badger_gc_interval":  "store.badger.gc_interval",

	// Keyspace
	"key_prefix":   "keyspace.prefix",
	"presence_ttl": "keyspace.presence_ttl",
	"typing_ttl":   "keyspace.typing_ttl",
	"receipt_ttl":  "keyspace.receipt_ttl",
	"credit_ttl":   "keyspace.credit_ttl",
	"message_ttl":  "keyspace.message_ttl",

	// Credits
	"credit_default_plan":        "credits.default_plan",
	"credit_sync_interval":       "credits.sync.interval",
	"credit_sync_retry_attempts": "credits.sync.retry_attempts",
	"credit_sync_retry_delay":    "credits.sync.retry_delay",
	"credit_sync_user_timeout":   "credits.sync.user_timeout",
	"credit_sync_concurrency":    "credits.sync.concurrency",

	// Capacity
	"max_messages_per_session": "capacity.max_messages_per_session",
	"capacity_threshold":       "capacity.threshold",
	"capacity_check_interval":  "capacity.check_interval",
	"session_sync_interval":    "capacity.sync_interval",
	"capacity_retain_messages": "capacity.retain_messages",
	"capacity_flush_timeout":   "capacity.flush_timeout",

	// Ledger
	"ledger_driver":      "ledger.driver",
	"duckdb_path":        "ledger.duckdb.path",
	"duckdb_max_memory":  "ledger.duckdb.max_memory",
	"duckdb_threads":     "ledger.duckdb.threads",
	"postgres_dsn":       "ledger.postgres.dsn",
	"postgres_max_conns": "ledger.postgres.max_conns",

	// Relay
	"relay_backend":        "relay.backend",
	"relay_node_id":        "relay.node_id",
	"relay_subject_prefix": "relay.subject_prefix",
	"nats_url":             "relay.nats.url",
	"nats_name":            "relay.nats.name",
	"nats_reconnect_wait":  "relay.nats.reconnect_wait",
	"nats_max_reconnects":  "relay.nats.max_reconnects",
	"nats_publish_timeout": "relay.nats.publish_timeout",
	"nats_embedded":        "relay.nats.embedded",
	"nats_embedded_host":   "relay.nats.embedded_host",
	"nats_embedded_port":   "relay.nats.embedded_port",
	"kafka_brokers":        "relay.kafka.brokers",
	"kafka_topic":          "relay.kafka.topic",

	// Identity
	"auth_mode":       "identity.mode",
	"jwt_secret":      "identity.jwt_secret",
	"jwt_issuer":      "identity.issuer",
	"identity_header": "identity.header",

	// WebSocket
	"ws_send_buffer":      "websocket.send_buffer",
	"ws_max_message_size": "websocket.max_message_size",
	"ws_command_rate":     "websocket.command_rate",
	"ws_command_burst":    "websocket.command_burst",
	"ws_allowed_origins":  "websocket.allowed_origins",

	// API
	"cors_origins":          "api.cors_origins",
	"rate_limit_requests":   "api.rate_limit_requests",
	"rate_limit_window":     "api.rate_limit_window",
	"disable_rate_limit":    "api.rate_limit_disabled",
	"api_default_page_size": "api.default_page_size",
	"api_max_page_size":     "api.max_page_size",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - REDIS_ADDR -> store.redis.addr
//   - STORE_BACKEND -> store.backend
//   - CREDIT_SYNC_INTERVAL -> credits.sync.interval
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
