package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", 10)
	viper.SetDefault("server.write_timeout_seconds", 10)
	viper.SetDefault("server.auto_start", true)
	viper.SetDefault("server.rate_limit.enabled", true)
	viper.SetDefault("server.rate_limit.rps", 1)
	viper.SetDefault("server.rate_limit.burst", 3)
	viper.SetDefault("server.rate_limit.cleanup_interval", 60)
	viper.SetDefault("server.rate_limit.max_age", 300)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("chains.ids", []string{"cosmos_hub"})

	viper.SetDefault("stream.initial_reconnect_delay", time.Second)
	viper.SetDefault("stream.max_reconnect_delay", 30*time.Second)
	viper.SetDefault("stream.max_reconnect_attempts", 10)
	viper.SetDefault("stream.restart_delay", time.Second)
	viper.SetDefault("stream.ping_interval", 7*time.Second)
	viper.SetDefault("stream.shutdown_timeout", 10*time.Second)
	viper.SetDefault("stream.dial_timeout", 15*time.Second)
	viper.SetDefault("stream.buffer_size", 256)
	viper.SetDefault("stream.supervisor_interval", 5*time.Minute)

	viper.SetDefault("broker.type", "rabbitmq")
	viper.SetDefault("broker.exchange", "cosmos_transfers")
	viper.SetDefault("broker.rabbitmq.host", "localhost")
	viper.SetDefault("broker.rabbitmq.port", 5672)
	viper.SetDefault("broker.rabbitmq.user", "guest")
	viper.SetDefault("broker.rabbitmq.password", "guest")
	viper.SetDefault("broker.kafka.group_id", "cosmos-stream-tail")
	viper.SetDefault("broker.nats.stream", "COSMOS_TRANSFERS")
	viper.SetDefault("broker.retry.max_attempts", 5)
	viper.SetDefault("broker.retry.initial_interval", 500*time.Millisecond)
	viper.SetDefault("broker.retry.max_interval", 10*time.Second)
	viper.SetDefault("broker.retry.multiplier", 2.0)

	viper.SetDefault("database.redis.ttl_seconds", 3600)

	viper.SetDefault("deduplication.ttl_seconds", 86400)
	viper.SetDefault("deduplication.on_redis_error", "allow")

	viper.SetDefault("alert.cooldown", 5*time.Minute)

	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", time.Minute)
	viper.SetDefault("circuit_breaker.timeout", 30*time.Second)
	viper.SetDefault("circuit_breaker.failure_ratio", 0.5)
	viper.SetDefault("circuit_breaker.min_requests", 5)

	viper.SetDefault("tracing.service_name", "cosmos-stream")
}

func bindEnvVariables() {
	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.exchange", "BROKER_EXCHANGE")
	viper.BindEnv("broker.rabbitmq.url", "BROKER_RABBITMQ_URL")
	viper.BindEnv("broker.rabbitmq.host", "BROKER_RABBITMQ_HOST")
	viper.BindEnv("broker.rabbitmq.port", "BROKER_RABBITMQ_PORT")
	viper.BindEnv("broker.rabbitmq.user", "BROKER_RABBITMQ_USER")
	viper.BindEnv("broker.rabbitmq.password", "BROKER_RABBITMQ_PASSWORD")
	viper.BindEnv("broker.rabbitmq.vhost", "BROKER_RABBITMQ_VHOST")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.nats.url", "BROKER_NATS_URL")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")
	viper.BindEnv("server.auto_start", "SERVER_AUTO_START")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("filter.expression", "FILTER_EXPRESSION")

	viper.BindEnv("alert.webhook_url", "ALERT_WEBHOOK_URL")
	viper.BindEnv("alert.email.password", "ALERT_EMAIL_PASSWORD")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		if brokers := splitList(brokersEnv); len(brokers) > 0 {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if chainsEnv := viper.GetString("CHAINS_IDS"); chainsEnv != "" {
		if ids := splitList(chainsEnv); len(ids) > 0 {
			cfg.Chains.IDs = ids
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
