package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/docqueue/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so constructing a
// PrometheusCollector that is never exercised leaves the registry untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	fetches            *prometheus.CounterVec
	fetchedMessages    prometheus.Counter
	controlRetries     *prometheus.CounterVec
	inFlight           prometheus.Gauge
	outcomes           *prometheus.CounterVec
	processingDuration prometheus.Histogram
	publishFailures    prometheus.Counter
	redeliveries       *prometheus.CounterVec
	heartbeats         *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "docqueue" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "docqueue"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "fetches_total",
			Help:      "Total fetch calls by result (messages, idle, error).",
		}, []string{"result"})

		p.fetchedMessages = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "fetched_messages_total",
			Help:      "Total messages returned by fetch calls.",
		})

		p.controlRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "control_retries_total",
			Help:      "Total control-plane retry attempts by operation.",
		}, []string{"op"})

		p.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "in_flight",
			Help:      "Messages currently being processed.",
		})

		p.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "outcomes_total",
			Help:      "Published job outcomes by status and error kind.",
		}, []string{"status", "kind"})

		p.processingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "processing_duration_seconds",
			Help:      "Engine processing time per job in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		})

		p.publishFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "publish_failures_total",
			Help:      "Outcomes that could not be published; the job is left for redelivery.",
		})

		p.redeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "redeliveries_total",
			Help:      "Jobs deliberately left for redelivery by reason.",
		}, []string{"reason"})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "heartbeat",
			Name:      "signals_total",
			Help:      "In-progress signals sent to the broker by result (success, failure).",
		}, []string{"result"})

		p.reg.MustRegister(
			p.fetches,
			p.fetchedMessages,
			p.controlRetries,
			p.inFlight,
			p.outcomes,
			p.processingDuration,
			p.publishFailures,
			p.redeliveries,
			p.heartbeats,
		)
	})
}

// RecordFetch records one fetch call and the number of messages it returned.
func (p *PrometheusCollector) RecordFetch(result string, count int) {
	p.ensureRegistered()
	p.fetches.WithLabelValues(result).Inc()
	if count > 0 {
		p.fetchedMessages.Add(float64(count))
	}
}

// RecordControlRetry increments the control-plane retry counter for op.
func (p *PrometheusCollector) RecordControlRetry(op string) {
	p.ensureRegistered()
	p.controlRetries.WithLabelValues(op).Inc()
}

// RecordInFlight sets the in-flight gauge.
func (p *PrometheusCollector) RecordInFlight(count int) {
	p.ensureRegistered()
	p.inFlight.Set(float64(count))
}

// RecordJobOutcome counts a published outcome. Success outcomes carry an empty kind label.
func (p *PrometheusCollector) RecordJobOutcome(status string, kind types.ErrorKind) {
	p.ensureRegistered()
	p.outcomes.WithLabelValues(status, string(kind)).Inc()
}

// RecordProcessingDuration observes engine time in seconds.
func (p *PrometheusCollector) RecordProcessingDuration(seconds float64) {
	p.ensureRegistered()
	p.processingDuration.Observe(seconds)
}

// RecordPublishFailure increments the publish failure counter.
func (p *PrometheusCollector) RecordPublishFailure() {
	p.ensureRegistered()
	p.publishFailures.Inc()
}

// RecordRedelivery increments the redelivery counter for reason.
func (p *PrometheusCollector) RecordRedelivery(reason string) {
	p.ensureRegistered()
	p.redeliveries.WithLabelValues(reason).Inc()
}

// RecordHeartbeat counts one in-progress signal.
func (p *PrometheusCollector) RecordHeartbeat(success bool) {
	p.ensureRegistered()
	result := "success"
	if !success {
		result = "failure"
	}
	p.heartbeats.WithLabelValues(result).Inc()
}
