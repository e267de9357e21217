package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FramesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_frames_received_total",
			Help: "Total number of websocket frames received from the chain node (count)",
		},
		[]string{"chain"},
	)

	MalformedFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_malformed_frames_total",
			Help: "Total number of frames dropped because they were not valid JSON (count)",
		},
		[]string{"chain"},
	)

	PayloadsExtractedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_payloads_extracted_total",
			Help: "Total number of extraction results by outcome (count)",
		},
		[]string{"chain", "result"},
	)

	ExtractionPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_extraction_panics_total",
			Help: "Total number of panics recovered while processing a frame (count)",
		},
		[]string{"chain"},
	)

	ReconnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_reconnect_attempts_total",
			Help: "Total number of reconnect attempts by kind (count)",
		},
		[]string{"chain", "kind"},
	)

	StallsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_stalls_detected_total",
			Help: "Total number of connections torn down because no frame arrived within the stall threshold (count)",
		},
		[]string{"chain"},
	)

	GivenUpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_given_up_total",
			Help: "Total number of times reconnecting was abandoned (count)",
		},
		[]string{"chain"},
	)

	ConnectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_connection_status",
			Help: "Current connection status code per chain (state code)",
		},
		[]string{"chain"},
	)

	LastMessageTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_last_message_timestamp_seconds",
			Help: "Unix time of the last frame received per chain (seconds)",
		},
		[]string{"chain"},
	)

	PayloadsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_payloads_published_total",
			Help: "Total number of payloads handed to the broker by outcome (count)",
		},
		[]string{"chain", "broker", "status"},
	)

	PayloadsFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_payloads_filtered_total",
			Help: "Total number of payloads rejected by the filter expression (count)",
		},
		[]string{"chain"},
	)

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_publish_duration_ms",
			Help:    "Duration of broker publish calls in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"chain", "broker"},
	)

	BrokerMessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_consumed_total",
			Help: "Total number of messages consumed by the tail command (count)",
		},
		[]string{"broker", "queue"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"component"},
	)

	AlertsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_sent_total",
			Help: "Total number of alerts by channel and outcome (count)",
		},
		[]string{"channel", "status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_dedup_checks_total",
			Help: "Total number of duplicate checks by outcome (count)",
		},
		[]string{"chain", "status"},
	)

	StatusStoreWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_store_writes_total",
			Help: "Total number of status snapshots written to redis (count)",
		},
		[]string{"status"},
	)
)

var (
	streamOnce  sync.Once
	brokerOnce  sync.Once
	breakerOnce sync.Once
	serverOnce  sync.Once
)

func RegisterStreamMetrics() {
	streamOnce.Do(func() {
		prometheus.MustRegister(FramesReceivedTotal)
		prometheus.MustRegister(MalformedFramesTotal)
		prometheus.MustRegister(PayloadsExtractedTotal)
		prometheus.MustRegister(ExtractionPanicsTotal)
		prometheus.MustRegister(ReconnectAttemptsTotal)
		prometheus.MustRegister(StallsDetectedTotal)
		prometheus.MustRegister(GivenUpTotal)
		prometheus.MustRegister(ConnectionStatus)
		prometheus.MustRegister(LastMessageTimestamp)
		prometheus.MustRegister(StatusStoreWritesTotal)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(PayloadsPublishedTotal)
		prometheus.MustRegister(PayloadsFilteredTotal)
		prometheus.MustRegister(PublishDuration)
		prometheus.MustRegister(BrokerMessagesConsumedTotal)
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(AlertsSentTotal)
		prometheus.MustRegister(DedupChecksTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	breakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterServerMetrics() {
	serverOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func IncFramesReceived(chain string) {
	FramesReceivedTotal.WithLabelValues(chain).Inc()
	LastMessageTimestamp.WithLabelValues(chain).Set(float64(time.Now().Unix()))
}

func IncMalformedFrame(chain string) {
	MalformedFramesTotal.WithLabelValues(chain).Inc()
}

func IncPayloadExtracted(chain, result string) {
	PayloadsExtractedTotal.WithLabelValues(chain, result).Inc()
}

func IncExtractionPanic(chain string) {
	ExtractionPanicsTotal.WithLabelValues(chain).Inc()
}

func IncReconnectAttempt(chain, kind string) {
	ReconnectAttemptsTotal.WithLabelValues(chain, kind).Inc()
}

func IncStallDetected(chain string) {
	StallsDetectedTotal.WithLabelValues(chain).Inc()
}

func IncGivenUp(chain string) {
	GivenUpTotal.WithLabelValues(chain).Inc()
}

func SetConnectionStatus(chain string, code int) {
	ConnectionStatus.WithLabelValues(chain).Set(float64(code))
}

func IncPayloadPublished(chain, broker, status string) {
	PayloadsPublishedTotal.WithLabelValues(chain, broker, status).Inc()
}

func IncPayloadFiltered(chain string) {
	PayloadsFilteredTotal.WithLabelValues(chain).Inc()
}

func ObservePublishDuration(chain, broker string, duration time.Duration) {
	PublishDuration.WithLabelValues(chain, broker).Observe(float64(duration.Milliseconds()))
}

func IncMessageConsumed(broker, queue string) {
	BrokerMessagesConsumedTotal.WithLabelValues(broker, queue).Inc()
}

func IncRetryAttempt(component string) {
	RetryAttemptsTotal.WithLabelValues(component).Inc()
}

func IncAlertSent(channel, status string) {
	AlertsSentTotal.WithLabelValues(channel, status).Inc()
}

func IncStatusStoreWrite(status string) {
	StatusStoreWritesTotal.WithLabelValues(status).Inc()
}

func IncDedupCheck(chain, status string) {
	DedupChecksTotal.WithLabelValues(chain, status).Inc()
}
