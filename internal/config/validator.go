package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateChains(cfg.Chains); err != nil {
		errors = append(errors, err)
	}

	if err := validateStream(cfg.Stream); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateDeduplication(cfg.Deduplication, cfg.Database.Redis); err != nil {
		errors = append(errors, err)
	}

	if err := validateAlert(cfg.Alert); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.RPS <= 0 {
		return &ValidationError{
			Field:   "server.rate_limit.rps",
			Message: "rps must be positive when rate limiting is enabled",
		}
	}

	return nil
}

func validateChains(cfg ChainsConfig) error {
	if len(cfg.IDs) == 0 {
		return &ValidationError{
			Field:   "chains.ids",
			Message: "at least one chain id is required",
		}
	}

	for i, id := range cfg.IDs {
		if _, err := chain.Lookup(id); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("chains.ids[%d]", i),
				Message: fmt.Sprintf("unknown chain %q (supported: %s)", id, strings.Join(chain.IDs(), ", ")),
			}
		}
	}

	for id, endpoint := range cfg.Endpoints {
		u, err := url.Parse(endpoint)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return &ValidationError{
				Field:   "chains.endpoints." + id,
				Message: fmt.Sprintf("endpoint must be a ws:// or wss:// url, got %q", endpoint),
			}
		}
	}

	return nil
}

func validateStream(cfg StreamConfig) error {
	if cfg.InitialReconnectDelay <= 0 {
		return &ValidationError{
			Field:   "stream.initial_reconnect_delay",
			Message: "initial reconnect delay must be positive",
		}
	}

	if cfg.MaxReconnectDelay < cfg.InitialReconnectDelay {
		return &ValidationError{
			Field:   "stream.max_reconnect_delay",
			Message: "max_reconnect_delay must be greater than or equal to initial_reconnect_delay",
		}
	}

	if cfg.MaxReconnectAttempts < 1 {
		return &ValidationError{
			Field:   "stream.max_reconnect_attempts",
			Message: "max_reconnect_attempts must be at least 1",
		}
	}

	if cfg.RestartDelay < 0 {
		return &ValidationError{
			Field:   "stream.restart_delay",
			Message: "restart_delay must be non-negative",
		}
	}

	if cfg.PingInterval <= 0 {
		return &ValidationError{
			Field:   "stream.ping_interval",
			Message: "ping_interval must be positive",
		}
	}

	if cfg.StallThreshold < 0 {
		return &ValidationError{
			Field:   "stream.stall_threshold",
			Message: "stall_threshold must be non-negative",
		}
	}

	if cfg.ShutdownTimeout <= 0 {
		return &ValidationError{
			Field:   "stream.shutdown_timeout",
			Message: "shutdown_timeout must be positive",
		}
	}

	if cfg.BufferSize < 1 {
		return &ValidationError{
			Field:   "stream.buffer_size",
			Message: "buffer_size must be at least 1",
		}
	}

	if cfg.SupervisorInterval <= 0 {
		return &ValidationError{
			Field:   "stream.supervisor_interval",
			Message: "supervisor_interval must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	if cfg.Exchange == "" {
		return &ValidationError{
			Field:   "broker.exchange",
			Message: "exchange is required",
		}
	}

	if err := validateRetry(cfg.Retry); err != nil {
		return err
	}

	switch cfg.Type {
	case "rabbitmq":
		return validateRabbitMQ(cfg.RabbitMQ)
	case "kafka":
		return validateKafka(cfg.Kafka)
	case "nats":
		return validateNATS(cfg.NATS)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: rabbitmq, kafka, nats)", cfg.Type),
		}
	}
}

func validateRetry(cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   "broker.retry.initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   "broker.retry.max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   "broker.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateRabbitMQ(cfg RabbitMQConfig) error {
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			return &ValidationError{
				Field:   "broker.rabbitmq.url",
				Message: "url must start with amqp:// or amqps://",
			}
		}
		return nil
	}

	if cfg.Host == "" {
		return &ValidationError{
			Field:   "broker.rabbitmq.host",
			Message: "RabbitMQ host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "broker.rabbitmq.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	return nil
}

func validateNATS(cfg NATSConfig) error {
	if cfg.URL == "" {
		return &ValidationError{
			Field:   "broker.nats.url",
			Message: "NATS url is required",
		}
	}

	if cfg.Stream == "" {
		return &ValidationError{
			Field:   "broker.nats.stream",
			Message: "JetStream stream name is required",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "database.redis.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	return nil
}

func validateDeduplication(cfg DeduplicationConfig, redis RedisConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if !redis.Enabled() {
		return &ValidationError{
			Field:   "deduplication.enabled",
			Message: "deduplication requires database.redis",
		}
	}
	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "deduplication.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}
	switch cfg.OnRedisError {
	case "", "allow", "deny":
	default:
		return &ValidationError{
			Field:   "deduplication.on_redis_error",
			Message: fmt.Sprintf("must be allow or deny, got %q", cfg.OnRedisError),
		}
	}
	return nil
}

func validateAlert(cfg AlertConfig) error {
	if cfg.Cooldown < 0 {
		return &ValidationError{
			Field:   "alert.cooldown",
			Message: "cooldown must be non-negative",
		}
	}

	if cfg.WebhookURL != "" {
		u, err := url.Parse(cfg.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return &ValidationError{
				Field:   "alert.webhook_url",
				Message: "webhook url must be http:// or https://",
			}
		}
	}

	if cfg.Email.Host != "" {
		if cfg.Email.Port < 1 || cfg.Email.Port > 65535 {
			return &ValidationError{
				Field:   "alert.email.port",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Email.Port),
			}
		}
		if cfg.Email.From == "" || len(cfg.Email.To) == 0 {
			return &ValidationError{
				Field:   "alert.email",
				Message: "from and at least one recipient are required",
			}
		}
	}

	return nil
}
