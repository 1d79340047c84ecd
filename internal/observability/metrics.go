package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LeaseBatchSize tracks how many items each lease query returned.
	LeaseBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawlsched_lease_batch_size",
		Help:    "Number of items claimed per lease batch",
		Buckets: prometheus.LinearBuckets(0, 1, 11),
	}, []string{"kind"})

	// DispatchTotal counts dispatch outcomes per batch kind.
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlsched_dispatch_total",
		Help: "Dispatch attempts by outcome (completed, requeued, failed)",
	}, []string{"kind", "outcome"})

	// DispatchDuration tracks the wall time of one dispatch including the
	// publish retries and the status transition.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawlsched_dispatch_duration_seconds",
		Help:    "Duration of a single item dispatch",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// PublishRetries counts broker publish attempts beyond the first.
	PublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlsched_publish_retries_total",
		Help: "Broker publish retry attempts",
	}, []string{"exchange"})

	// PublishFailures counts publishes that exhausted their retry budget.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlsched_publish_failures_total",
		Help: "Broker publishes that failed after all retries",
	}, []string{"exchange"})

	// DLQRepublished counts ring-retry republishes back to the main exchange.
	DLQRepublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlsched_dlq_republished_total",
		Help: "Dead-lettered messages republished to their main exchange",
	}, []string{"queue"})

	// DLQDropped counts poison messages dropped after exhausting the ring.
	DLQDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlsched_dlq_dropped_total",
		Help: "Dead-lettered messages dropped after the retry budget",
	}, []string{"queue"})

	// ReapedLeases counts PROCESSING rows returned to PENDING by the reaper.
	ReapedLeases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlsched_reaped_leases_total",
		Help: "Stale PROCESSING leases returned to PENDING",
	})

	// IntakeScheduled counts URLs accepted by the intake API.
	IntakeScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlsched_intake_scheduled_total",
		Help: "URLs inserted as pending scheduled items",
	})

	// IntakeDuplicates counts submissions skipped because the URL exists.
	IntakeDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlsched_intake_duplicates_total",
		Help: "URL submissions skipped as case-insensitive duplicates",
	})

	// APIRateLimited tracks intake requests rejected by storm protection.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlsched_api_rate_limited_total",
		Help: "API requests rejected by the rate limiter",
	}, []string{"endpoint"})

	// ConsumerMessages counts deliveries per queue and outcome.
	ConsumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlsched_consumer_messages_total",
		Help: "Consumed deliveries by queue and outcome (ack, reject)",
	}, []string{"queue", "outcome"})

	// BreakerState reports the discovery HTTP circuit breaker state
	// (0=closed, 1=half_open, 2=open).
	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawlsched_discovery_breaker_state",
		Help: "Outbound HTTP circuit breaker state (0=closed, 1=half_open, 2=open)",
	})

	// StreamClients tracks connected websocket stream clients.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawlsched_stream_clients",
		Help: "Currently connected event stream clients",
	})
)
