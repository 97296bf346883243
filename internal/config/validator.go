package config

import (
	"errors"
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks everything that can be verified without network access.
// All problems are reported together.
func ValidateStatic(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(cfg.Server)...)
	errs = append(errs, validateDatabase(cfg.Database)...)
	errs = append(errs, validateBroker(cfg.Broker)...)
	errs = append(errs, validateCollector(cfg.Collector)...)
	errs = append(errs, validateGeo(cfg.Geo)...)
	errs = append(errs, validateRateLimit("management.rate_limit", cfg.Management.RateLimit)...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

func validateServer(cfg ServerConfig) []error {
	var errs []error
	if !validPort(cfg.Port) {
		errs = append(errs, invalid("server.port", "port must be between 1 and 65535, got %d", cfg.Port))
	}
	if cfg.ReadTimeoutSeconds <= 0 {
		errs = append(errs, invalid("server.read_timeout_seconds", "read timeout must be positive"))
	}
	if cfg.WriteTimeoutSeconds <= 0 {
		errs = append(errs, invalid("server.write_timeout_seconds", "write timeout must be positive"))
	}
	return errs
}

func validateDatabase(cfg DatabaseConfig) []error {
	var errs []error

	pg := cfg.Postgres
	if pg.Host == "" {
		errs = append(errs, invalid("database.postgres.host", "PostgreSQL host is required"))
	}
	if !validPort(pg.Port) {
		errs = append(errs, invalid("database.postgres.port", "port must be between 1 and 65535, got %d", pg.Port))
	}
	if pg.User == "" {
		errs = append(errs, invalid("database.postgres.user", "PostgreSQL user is required"))
	}
	if pg.DBName == "" {
		errs = append(errs, invalid("database.postgres.dbname", "PostgreSQL database name is required"))
	}
	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if pg.SSLMode != "" && !validSSLModes[strings.ToLower(pg.SSLMode)] {
		errs = append(errs, invalid("database.postgres.sslmode", "invalid SSL mode: %s", pg.SSLMode))
	}

	if cfg.Redis.Host != "" && !validPort(cfg.Redis.Port) {
		errs = append(errs, invalid("database.redis.port", "port must be between 1 and 65535, got %d", cfg.Redis.Port))
	}

	if cfg.MongoDB.URI != "" {
		if !strings.HasPrefix(cfg.MongoDB.URI, "mongodb://") && !strings.HasPrefix(cfg.MongoDB.URI, "mongodb+srv://") {
			errs = append(errs, invalid("database.mongodb.uri", "MongoDB URI must start with mongodb:// or mongodb+srv://"))
		}
		if cfg.MongoDB.Database == "" {
			errs = append(errs, invalid("database.mongodb.database", "MongoDB database name is required"))
		}
	}

	return errs
}

func validateBroker(cfg BrokerConfig) []error {
	switch cfg.Type {
	case "":
		return nil
	case "kafka":
	default:
		return []error{invalid("broker.type", "unknown broker type: %s (supported: kafka)", cfg.Type)}
	}

	var errs []error
	k := cfg.Kafka
	if len(k.Brokers) == 0 {
		errs = append(errs, invalid("broker.kafka.brokers", "at least one Kafka broker is required"))
	}
	for i, b := range k.Brokers {
		if b == "" {
			errs = append(errs, invalid(fmt.Sprintf("broker.kafka.brokers[%d]", i), "broker address cannot be empty"))
		}
	}
	if k.ConfigUpdateTopic != "" && k.GroupID == "" {
		errs = append(errs, invalid("broker.kafka.group_id", "consumer group ID is required to consume config updates"))
	}
	if k.Retry.MaxAttempts < 0 {
		errs = append(errs, invalid("broker.kafka.retry.max_attempts", "max_attempts must be non-negative"))
	}
	if k.Retry.MaxIntervalMs > 0 && k.Retry.InitialIntervalMs > k.Retry.MaxIntervalMs {
		errs = append(errs, invalid("broker.kafka.retry.max_interval_ms", "max_interval_ms must be greater than or equal to initial_interval_ms"))
	}
	if k.Retry.Multiplier <= 0 {
		errs = append(errs, invalid("broker.kafka.retry.multiplier", "multiplier must be positive"))
	}
	return errs
}

func validateCollector(cfg CollectorConfig) []error {
	var errs []error
	if len(cfg.IPHeaders) == 0 && !cfg.TrustRemoteAddr {
		errs = append(errs, invalid("collector.ip_headers", "at least one IP header is required unless trust_remote_addr is set"))
	}
	for i, h := range cfg.IPHeaders {
		if strings.TrimSpace(h) == "" {
			errs = append(errs, invalid(fmt.Sprintf("collector.ip_headers[%d]", i), "header name cannot be empty"))
		}
	}
	if cfg.PersistTimeoutMs <= 0 {
		errs = append(errs, invalid("collector.persist_timeout_ms", "persist timeout must be positive"))
	}
	if cfg.SiteCacheTTLSeconds < 0 {
		errs = append(errs, invalid("collector.site_cache_ttl_seconds", "TTL must be non-negative (0 disables the site cache)"))
	}
	errs = append(errs, validateRateLimit("collector.rate_limit", cfg.RateLimit)...)
	return errs
}

func validateGeo(cfg GeoConfig) []error {
	if !cfg.Enabled {
		return nil
	}
	var errs []error
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		errs = append(errs, invalid("geo.endpoint", "endpoint must be an http(s) URL"))
	}
	if !strings.Contains(cfg.Endpoint, "{ip}") {
		errs = append(errs, invalid("geo.endpoint", "endpoint must contain the {ip} placeholder"))
	}
	if cfg.TimeoutMs <= 0 {
		errs = append(errs, invalid("geo.timeout_ms", "lookup timeout must be positive"))
	}
	return errs
}

func validateRateLimit(field string, cfg RateLimitConfig) []error {
	if !cfg.Enabled {
		return nil
	}
	var errs []error
	if cfg.RPS <= 0 {
		errs = append(errs, invalid(field+".rps", "rps must be positive"))
	}
	if cfg.Burst <= 0 {
		errs = append(errs, invalid(field+".burst", "burst must be positive"))
	}
	return errs
}
