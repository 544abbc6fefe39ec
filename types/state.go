package types

// JobState is the processing state of one fetched message.
//
// Normal progression:
//
//	Fetched → Heartbeating → ResolvingSource → Processing → Publishing → Acked
//
// Failures while resolving, processing or publishing a result divert to
// PublishingError → Acked. A failed publish ends in UnackedAwaitingRedelivery,
// which is terminal from this worker's point of view.
type JobState int

const (
	// JobFetched is the state right after the message was pulled.
	JobFetched JobState = iota

	// JobHeartbeating indicates the ack-wait extender is running.
	JobHeartbeating

	// JobResolvingSource indicates the document bytes are being fetched.
	JobResolvingSource

	// JobProcessing indicates the engine is running.
	JobProcessing

	// JobPublishing indicates the result envelope is being published.
	JobPublishing

	// JobPublishingError indicates an error envelope is being published.
	JobPublishingError

	// JobAcked indicates the message was acknowledged.
	JobAcked

	// JobUnackedAwaitingRedelivery indicates the message was left for the broker to redeliver.
	JobUnackedAwaitingRedelivery
)

// String returns the string representation of the state.
func (s JobState) String() string {
	switch s {
	case JobFetched:
		return "Fetched"
	case JobHeartbeating:
		return "Heartbeating"
	case JobResolvingSource:
		return "ResolvingSource"
	case JobProcessing:
		return "Processing"
	case JobPublishing:
		return "Publishing"
	case JobPublishingError:
		return "PublishingError"
	case JobAcked:
		return "Acked"
	case JobUnackedAwaitingRedelivery:
		return "UnackedAwaitingRedelivery"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transition can happen for the message.
func (s JobState) IsTerminal() bool {
	return s == JobAcked || s == JobUnackedAwaitingRedelivery
}
