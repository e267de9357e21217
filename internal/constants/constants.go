package constants

import "time"

const (
	ServiceName     = "cosmos-stream"
	ContentTypeJSON = "application/json"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaDialTimeout  = 5 * time.Second
)

const (
	NATSConnectTimeout = 5 * time.Second
	NATSReconnectWait  = 2 * time.Second
	NATSMaxReconnects  = 10
	NATSMaxAge         = 7 * 24 * time.Hour
)

const (
	AMQPPrefetchCount = 10
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 15 * time.Second
)

const (
	StatusKeyPrefix   = "cosmos-stream:status:"
	DefaultTTLSeconds = 3600
	StatusQueueSize   = 64
)

const (
	DedupKeyPrefix  = "cosmos-stream:seen:"
	DefaultDedupTTL = 24 * time.Hour
	FallbackAllow   = "allow"
	FallbackDeny    = "deny"
)
