package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultIPHeaders puts edge proxy headers ahead of generic forwarding headers.
var DefaultIPHeaders = []string{
	"cf-connecting-ip",
	"true-client-ip",
	"x-real-ip",
	"x-forwarded-for",
	"x-client-ip",
	"forwarded-for",
}

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 10)
	v.SetDefault("server.write_timeout_seconds", 10)

	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 25)
	v.SetDefault("database.postgres.max_idle_conns", 5)

	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval_ms", 100)
	v.SetDefault("broker.kafka.retry.max_interval_ms", 2000)
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("collector.ip_headers", DefaultIPHeaders)
	v.SetDefault("collector.persist_timeout_ms", 5000)
	v.SetDefault("collector.site_cache_ttl_seconds", 60)
	v.SetDefault("collector.site_cache_shared_eviction", false)
	v.SetDefault("collector.allow_list_enabled", true)
	v.SetDefault("collector.rate_limit.rps", 50)
	v.SetDefault("collector.rate_limit.burst", 100)
	v.SetDefault("collector.rate_limit.cleanup_interval_seconds", 300)
	v.SetDefault("collector.rate_limit.max_age_seconds", 600)

	v.SetDefault("geo.endpoint", "http://ip-api.com/json/{ip}?fields=status,message,country,countryCode,city")
	v.SetDefault("geo.timeout_ms", 1500)
	v.SetDefault("geo.cache_ttl_seconds", 3600)

	v.SetDefault("management.rate_limit.rps", 10)
	v.SetDefault("management.rate_limit.burst", 20)
	v.SetDefault("management.rate_limit.cleanup_interval_seconds", 300)
	v.SetDefault("management.rate_limit.max_age_seconds", 600)

	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval_seconds", 60)
	v.SetDefault("circuit_breaker.timeout_seconds", 30)
	v.SetDefault("circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("circuit_breaker.min_requests", 5)

	v.SetDefault("tracing.sampler.type", "parentbased_always_on")
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("broker.type", "BROKER_TYPE")
	v.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	v.BindEnv("broker.kafka.config_update_topic", "BROKER_KAFKA_CONFIG_UPDATE_TOPIC")
	v.BindEnv("broker.kafka.outcome_topic", "BROKER_KAFKA_OUTCOME_TOPIC")

	v.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	v.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	v.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	v.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	v.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	v.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")
	v.BindEnv("database.run_migrations", "DATABASE_RUN_MIGRATIONS")

	v.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	v.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	v.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")

	v.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	v.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("logging.level", "LOGGING_LEVEL")
	v.BindEnv("logging.format", "LOGGING_FORMAT")

	v.BindEnv("geo.enabled", "GEO_ENABLED")
	v.BindEnv("geo.endpoint", "GEO_ENDPOINT")

	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
	v.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
}

// applyEnvOverrides handles list-valued variables that viper cannot split on its own.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokers := splitList(v.GetString("BROKER_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Broker.Kafka.Brokers = brokers
	}

	if headers := splitList(v.GetString("COLLECTOR_IP_HEADERS")); len(headers) > 0 {
		cfg.Collector.IPHeaders = headers
	}

	if otlpEndpoint := v.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
