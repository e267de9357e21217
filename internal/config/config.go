package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Chains         ChainsConfig         `mapstructure:"chains"`
	Stream         StreamConfig         `mapstructure:"stream"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Filter         FilterConfig         `mapstructure:"filter"`
	Deduplication  DeduplicationConfig  `mapstructure:"deduplication"`
	Alert          AlertConfig          `mapstructure:"alert"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port                int             `mapstructure:"port"`
	ReadTimeoutSeconds  int             `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int             `mapstructure:"write_timeout_seconds"`
	AutoStart           bool            `mapstructure:"auto_start"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ChainsConfig struct {
	IDs       []string          `mapstructure:"ids"`
	Endpoints map[string]string `mapstructure:"endpoints"`
}

type StreamConfig struct {
	InitialReconnectDelay time.Duration `mapstructure:"initial_reconnect_delay"`
	MaxReconnectDelay     time.Duration `mapstructure:"max_reconnect_delay"`
	MaxReconnectAttempts  int           `mapstructure:"max_reconnect_attempts"`
	RestartDelay          time.Duration `mapstructure:"restart_delay"`
	PingInterval          time.Duration `mapstructure:"ping_interval"`
	// StallThreshold overrides the per-chain registry value when positive.
	StallThreshold     time.Duration `mapstructure:"stall_threshold"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	BufferSize         int           `mapstructure:"buffer_size"`
	SupervisorInterval time.Duration `mapstructure:"supervisor_interval"`
	EchoNoOp           bool          `mapstructure:"echo_noop"`
}

type BrokerConfig struct {
	Type     string         `mapstructure:"type"`
	Exchange string         `mapstructure:"exchange"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Retry    RetryConfig    `mapstructure:"retry"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type DatabaseConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type FilterConfig struct {
	Expression string `mapstructure:"expression"`
}

// DeduplicationConfig drops payloads already published for the same chain
// and tx hash within the TTL. Requires redis.
type DeduplicationConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	OnRedisError string `mapstructure:"on_redis_error"`
}

type AlertConfig struct {
	Cooldown   time.Duration `mapstructure:"cooldown"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Email      EmailConfig   `mapstructure:"email"`
}

type EmailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

func (c EmailConfig) Enabled() bool {
	return c.Host != "" && len(c.To) > 0
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
