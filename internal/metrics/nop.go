package metrics

import "github.com/arloliu/docqueue/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	metrics := metrics.NewNop()
//	w, err := docqueue.NewWorker(cfg, conn, engine, docqueue.WithMetrics(metrics))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// ConsumerMetrics implementation

// RecordFetch discards the fetch metric.
func (n *NopMetrics) RecordFetch(_ /* result */ string, _ /* count */ int) {
	// No-op
}

// RecordControlRetry discards the control-plane retry metric.
func (n *NopMetrics) RecordControlRetry(_ /* op */ string) {
	// No-op
}

// RecordInFlight discards the in-flight gauge.
func (n *NopMetrics) RecordInFlight(_ /* count */ int) {
	// No-op
}

// JobMetrics implementation

// RecordJobOutcome discards the outcome metric.
func (n *NopMetrics) RecordJobOutcome(_ /* status */ string, _ /* kind */ types.ErrorKind) {
	// No-op
}

// RecordProcessingDuration discards the processing duration metric.
func (n *NopMetrics) RecordProcessingDuration(_ /* seconds */ float64) {
	// No-op
}

// RecordPublishFailure discards the publish failure counter.
func (n *NopMetrics) RecordPublishFailure() {
	// No-op
}

// RecordRedelivery discards the redelivery counter.
func (n *NopMetrics) RecordRedelivery(_ /* reason */ string) {
	// No-op
}

// HeartbeatMetrics implementation

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* success */ bool) {
	// No-op
}
