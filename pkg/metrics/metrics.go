package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CollectorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_requests_total",
			Help: "Total number of collector requests by outcome (count)",
		},
		[]string{"endpoint", "outcome"},
	)

	CollectorProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_processing_duration_ms",
			Help:    "End to end decision duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"endpoint"},
	)

	BotDetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_bot_detections_total",
			Help: "Total number of requests classified as bots by matched signature (count)",
		},
		[]string{"signature"},
	)

	AllowListBypassTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_allow_list_bypass_total",
			Help: "Total number of requests that bypassed bot blocking via the allow list (count)",
		},
	)

	CloakingRuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloaking_rule_matches_total",
			Help: "Total number of cloaking decisions by action (count)",
		},
		[]string{"action"},
	)

	PersistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_persist_duration_ms",
			Help:    "Duration of outcome persistence in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"destination", "status"},
	)

	GeoLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geo_lookups_total",
			Help: "Total number of geolocation lookups by result (count)",
		},
		[]string{"result"},
	)

	GeoLookupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geo_lookup_duration_ms",
			Help:    "Duration of remote geolocation lookups in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
	)

	SiteCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "site_cache_total",
			Help: "Total number of site cache lookups by result (count)",
		},
		[]string{"result"},
	)

	OutcomePublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outcome_publish_total",
			Help: "Total number of outcome events published to the broker (count)",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
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

	ManagementOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "management_operations_total",
			Help: "Total number of management operations by entity and result (count)",
		},
		[]string{"entity", "operation", "status"},
	)
)

var (
	sharedOnce sync.Once
	brokerOnce sync.Once
)

func registerShared() {
	sharedOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func RegisterCollectorMetrics() {
	prometheus.MustRegister(CollectorRequestsTotal)
	prometheus.MustRegister(CollectorProcessingDuration)
	prometheus.MustRegister(BotDetectionsTotal)
	prometheus.MustRegister(AllowListBypassTotal)
	prometheus.MustRegister(CloakingRuleMatchesTotal)
	prometheus.MustRegister(PersistDuration)
	prometheus.MustRegister(GeoLookupsTotal)
	prometheus.MustRegister(GeoLookupDuration)
	prometheus.MustRegister(SiteCacheTotal)
	prometheus.MustRegister(OutcomePublishTotal)
	registerShared()
}

func RegisterManagementMetrics() {
	prometheus.MustRegister(ManagementOperationsTotal)
	registerShared()
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(KafkaMessagesReadTotal)
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
		prometheus.MustRegister(KafkaWriteDuration)
	})
}

func ObserveCollectorDuration(endpoint string, duration time.Duration) {
	CollectorProcessingDuration.WithLabelValues(endpoint).Observe(float64(duration.Milliseconds()))
}

func ObservePersistDuration(destination, status string, duration time.Duration) {
	PersistDuration.WithLabelValues(destination, status).Observe(float64(duration.Milliseconds()))
}

func ObserveGeoLookupDuration(duration time.Duration) {
	GeoLookupDuration.Observe(float64(duration.Milliseconds()))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func IncManagementOperation(entity, operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ManagementOperationsTotal.WithLabelValues(entity, operation, status).Inc()
}
