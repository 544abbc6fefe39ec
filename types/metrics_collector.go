package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	ConsumerMetrics
	JobMetrics
	HeartbeatMetrics
}

// ConsumerMetrics defines metrics for the fetch loop.
type ConsumerMetrics interface {
	// RecordFetch records the result of one fetch call.
	//
	// Parameters:
	//   - result: "messages", "idle" or "error"
	//   - count: Number of messages returned
	RecordFetch(result string, count int)

	// RecordControlRetry records one retried control-plane call (stream or consumer setup).
	//
	// Parameters:
	//   - op: "ensure_stream" or "ensure_consumer"
	RecordControlRetry(op string)

	// RecordInFlight sets the number of messages currently being processed (gauge metric).
	RecordInFlight(count int)
}

// JobMetrics defines metrics for job outcomes.
type JobMetrics interface {
	// RecordJobOutcome records a published outcome.
	//
	// Parameters:
	//   - status: "success" or "error"
	//   - kind: Error kind for error outcomes, empty for success
	RecordJobOutcome(status string, kind ErrorKind)

	// RecordProcessingDuration records the engine time of one job in seconds.
	RecordProcessingDuration(seconds float64)

	// RecordPublishFailure records an outcome that could not be published.
	RecordPublishFailure()

	// RecordRedelivery records a job deliberately left for redelivery.
	//
	// Parameters:
	//   - reason: "publish_failed" or "retryable"
	RecordRedelivery(reason string)
}

// HeartbeatMetrics defines metrics for ack-wait extension signals.
type HeartbeatMetrics interface {
	// RecordHeartbeat records one in-progress signal.
	//
	// Parameters:
	//   - success: true if the signal reached the broker
	RecordHeartbeat(success bool)
}
