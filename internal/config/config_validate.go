// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateStore,
		c.validateKeyspace,
		c.validateCredits,
		c.validateCapacity,
		c.validateLedger,
		c.validateRelay,
		c.validateIdentity,
		c.validateWebSocket,
		c.validateAPI,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
}

// validateServer validates the HTTP listener settings
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if !validEnvironments[c.Server.Environment] {
		return fmt.Errorf("ENVIRONMENT must be one of: development, staging, production")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// validateStore validates the ephemeral store backend selection
func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendManaged:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when STORE_BACKEND=%s", BackendManaged)
		}
		if c.Store.Redis.DB < 0 || c.Store.Redis.DB > 15 {
			return fmt.Errorf("REDIS_DB must be between 0 and 15")
		}
	case BackendLocal:
		if !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
			return fmt.Errorf("BADGER_PATH is required when STORE_BACKEND=%s", BackendLocal)
		}
	case BackendMock:
		if c.Server.IsProduction() {
			return fmt.Errorf("STORE_BACKEND=mock is not allowed when ENVIRONMENT=production")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of: managed, local, mock")
	}
	return nil
}

// validateKeyspace validates the key prefix and TTL policy
func (c *Config) validateKeyspace() error {
	if c.Keyspace.Prefix == "" {
		return fmt.Errorf("KEY_PREFIX must not be empty")
	}
	if strings.ContainsAny(c.Keyspace.Prefix, ":*?[]") {
		return fmt.Errorf("KEY_PREFIX must not contain ':' or glob characters")
	}

	ttls := []struct {
		name string
		ttl  time.Duration
	}{
		{"PRESENCE_TTL", c.Keyspace.PresenceTTL},
		{"TYPING_TTL", c.Keyspace.TypingTTL},
		{"RECEIPT_TTL", c.Keyspace.ReceiptTTL},
		{"CREDIT_TTL", c.Keyspace.CreditTTL},
		{"MESSAGE_TTL", c.Keyspace.MessageTTL},
	}
	for _, t := range ttls {
		if t.ttl < time.Second {
			return fmt.Errorf("%s must be at least 1s", t.name)
		}
	}
	return nil
}

// validateCredits validates pricing plans and the sync job schedule
func (c *Config) validateCredits() error {
	if _, ok := c.Credits.Plans[c.Credits.DefaultPlan]; !ok {
		return fmt.Errorf("CREDIT_DEFAULT_PLAN %q is not a configured plan", c.Credits.DefaultPlan)
	}
	for name, p := range c.Credits.Plans {
		if p.InputRatePer1K < 0 || p.OutputRatePer1K < 0 {
			return fmt.Errorf("credits.plans.%s: token rates must be non-negative", name)
		}
		if p.ProfitMargin <= 0 {
			return fmt.Errorf("credits.plans.%s: profit_margin must be positive", name)
		}
		if p.CreditToUSDRate <= 0 {
			return fmt.Errorf("credits.plans.%s: credit_to_usd_rate must be positive", name)
		}
	}

	s := c.Credits.Sync
	if s.Interval < time.Second {
		return fmt.Errorf("CREDIT_SYNC_INTERVAL must be at least 1s")
	}
	if s.RetryAttempts < 1 || s.RetryAttempts > 20 {
		return fmt.Errorf("CREDIT_SYNC_RETRY_ATTEMPTS must be between 1 and 20")
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("CREDIT_SYNC_RETRY_DELAY must not be negative")
	}
	if s.UserTimeout <= 0 {
		return fmt.Errorf("CREDIT_SYNC_USER_TIMEOUT must be positive")
	}
	if s.Concurrency < 1 || s.Concurrency > 64 {
		return fmt.Errorf("CREDIT_SYNC_CONCURRENCY must be between 1 and 64")
	}
	return nil
}

// validateCapacity validates the session capacity monitor
func (c *Config) validateCapacity() error {
	if c.Capacity.MaxMessagesPerSession < 1 {
		return fmt.Errorf("MAX_MESSAGES_PER_SESSION must be at least 1")
	}
	if c.Capacity.Threshold <= 0 || c.Capacity.Threshold > 1 {
		return fmt.Errorf("CAPACITY_THRESHOLD must be in (0, 1]")
	}
	if c.Capacity.CheckInterval < time.Second {
		return fmt.Errorf("CAPACITY_CHECK_INTERVAL must be at least 1s")
	}
	if c.Capacity.SyncInterval < time.Second {
		return fmt.Errorf("SESSION_SYNC_INTERVAL must be at least 1s")
	}
	// A flushed room keeps RetainMessages; at or above the trigger it would
	// be flushed again on every check.
	trigger := c.Capacity.Threshold * float64(c.Capacity.MaxMessagesPerSession)
	if c.Capacity.RetainMessages < 0 || float64(c.Capacity.RetainMessages) >= trigger {
		return fmt.Errorf("CAPACITY_RETAIN_MESSAGES must be at least 0 and below CAPACITY_THRESHOLD x MAX_MESSAGES_PER_SESSION (%.0f)", trigger)
	}
	return nil
}

// validateLedger validates the durable ledger driver
func (c *Config) validateLedger() error {
	switch c.Ledger.Driver {
	case LedgerDuckDB:
		if c.Ledger.DuckDB.Path == "" {
			return fmt.Errorf("DUCKDB_PATH is required when LEDGER_DRIVER=%s", LedgerDuckDB)
		}
	case LedgerPostgres:
		if c.Ledger.Postgres.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when LEDGER_DRIVER=%s", LedgerPostgres)
		}
		if c.Ledger.Postgres.MaxConns < 1 {
			return fmt.Errorf("POSTGRES_MAX_CONNS must be at least 1")
		}
	default:
		return fmt.Errorf("LEDGER_DRIVER must be one of: duckdb, postgres")
	}
	return nil
}

// validateRelay validates cross-node relay settings (only if enabled)
func (c *Config) validateRelay() error {
	switch c.Relay.Backend {
	case RelayNone:
		return nil
	case RelayNATS, RelayWatermill:
		if err := validateNATSURL(c.Relay.NATS.URL); err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
	case RelayKafka:
		if len(c.Relay.Kafka.Brokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when RELAY_BACKEND=%s", RelayKafka)
		}
		if c.Relay.Kafka.Topic == "" {
			return fmt.Errorf("KAFKA_TOPIC is required when RELAY_BACKEND=%s", RelayKafka)
		}
	default:
		return fmt.Errorf("RELAY_BACKEND must be one of: none, nats, watermill, kafka")
	}
	if strings.ContainsAny(c.Relay.SubjectPrefix, " *>") || c.Relay.SubjectPrefix == "" {
		return fmt.Errorf("RELAY_SUBJECT_PREFIX must be a non-empty NATS subject token")
	}
	return nil
}

// validateNATSURL accepts nats:// and tls:// URLs with a host
func validateNATSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "nats" && u.Scheme != "tls" {
		return fmt.Errorf("scheme must be nats or tls, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// validateIdentity validates the identity resolver mode
func (c *Config) validateIdentity() error {
	switch c.Identity.Mode {
	case IdentityJWT:
		return c.validateJWTSecret()
	case IdentityHeader:
		if c.Identity.Header == "" {
			return fmt.Errorf("IDENTITY_HEADER is required when AUTH_MODE=%s", IdentityHeader)
		}
		return nil
	default:
		return fmt.Errorf("AUTH_MODE must be one of: jwt, header")
	}
}

// validateJWTSecret validates the JWT secret configuration
func (c *Config) validateJWTSecret() error {
	if c.Identity.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_MODE is jwt")
	}
	if len(c.Identity.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}
	if containsPlaceholder(c.Identity.JWTSecret) {
		return fmt.Errorf("JWT_SECRET contains a placeholder value - generate a secure secret with: openssl rand -base64 32")
	}
	return nil
}

// validateWebSocket validates per-connection limits
func (c *Config) validateWebSocket() error {
	if c.WebSocket.SendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be at least 1")
	}
	if c.WebSocket.MaxMessageSize < 512 {
		return fmt.Errorf("WS_MAX_MESSAGE_SIZE must be at least 512 bytes")
	}
	if c.WebSocket.CommandRate <= 0 || c.WebSocket.CommandBurst < 1 {
		return fmt.Errorf("WS_COMMAND_RATE and WS_COMMAND_BURST must be positive")
	}
	return nil
}

// Rate limit bounds
const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

// validateAPI validates REST rate limiting and paging
func (c *Config) validateAPI() error {
	if !c.API.RateLimitDisabled {
		if c.API.RateLimitRequests < minRateLimitRequests || c.API.RateLimitRequests > maxRateLimitRequests {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
		}
		if c.API.RateLimitWindow < minRateLimitWindow || c.API.RateLimitWindow > maxRateLimitWindow {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
		}
	}
	if c.API.DefaultPageSize < 1 || c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("API_DEFAULT_PAGE_SIZE must be between 1 and API_MAX_PAGE_SIZE")
	}
	if c.Server.IsProduction() && c.hasWildcardCORS() {
		return fmt.Errorf("CORS_ORIGINS=* (wildcard) is not allowed when ENVIRONMENT=production")
	}
	return nil
}

func (c *Config) hasWildcardCORS() bool {
	for _, origin := range c.API.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// placeholderPatterns are values that indicate the operator forgot to set a
// real secret.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
	"EXAMPLE",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
