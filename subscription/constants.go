package subscription

import "time"

// Default configuration values for Consumer.
const (
	// DefaultBatchSize is the default number of messages to fetch per pull request.
	DefaultBatchSize = 1

	// DefaultFetchTimeout is the default maximum duration to wait for messages.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of retries for consumer registration.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the default duration between registration retries.
	DefaultRetryBackoff = 100 * time.Millisecond

	// DefaultAckWait is the default duration the broker waits for an ack before redelivering.
	DefaultAckWait = 10 * time.Minute

	// DefaultMaxDeliver is the default maximum delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultMaxAckPending is the default cap on unacknowledged messages across all replicas.
	DefaultMaxAckPending = 1000

	// DefaultErrorBackoffBase is the first delay after a failed fetch.
	DefaultErrorBackoffBase = 200 * time.Millisecond

	// DefaultErrorBackoffCap bounds the delay between failed fetches.
	DefaultErrorBackoffCap = 10 * time.Second

	// errorBackoffMultiplier grows the decorrelated jitter window between failed fetches.
	errorBackoffMultiplier = 1.6
)
