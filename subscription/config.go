package subscription

import (
	"errors"
	"time"

	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/internal/metrics"
	"github.com/arloliu/docqueue/types"
)

// ConsumerConfig configures the durable pull consumer.
//
// Required fields:
//   - StreamName
//   - Durable
//
// Optional tuning fields are documented inline below. Zero values are replaced by
// sensible defaults via applyDefaults().
type ConsumerConfig struct {
	// StreamName is the input stream the durable is bound to.
	StreamName string

	// Durable is the consumer name shared by every worker replica.
	Durable string

	// FilterSubjects narrows the subjects delivered. Empty means the whole stream.
	FilterSubjects []string

	// AckWait is how long the broker waits for an ack before redelivering. Heartbeats
	// extend it for messages still being processed.
	AckWait time.Duration

	// MaxDeliver bounds how many times a message is delivered. -1 means unlimited.
	MaxDeliver int

	// MaxAckPending caps unacknowledged messages across all replicas.
	MaxAckPending int

	// BatchSize is the number of messages fetched and processed concurrently per pull.
	BatchSize int

	// FetchTimeout is how long one pull waits for messages before reporting idle.
	FetchTimeout time.Duration

	// MaxRetries and RetryBackoff govern consumer registration retries.
	MaxRetries   int
	RetryBackoff time.Duration

	// ErrorBackoffBase and ErrorBackoffCap bound the jittered delay after failed fetches.
	ErrorBackoffBase time.Duration
	ErrorBackoffCap  time.Duration

	// RetrySeed makes backoff jitter deterministic when non-zero (tests).
	RetrySeed int64

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// applyDefaults fills unset optional fields with project defaults.
func (cfg *ConsumerConfig) applyDefaults() {
	if cfg.AckWait == 0 {
		cfg.AckWait = DefaultAckWait
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = DefaultMaxDeliver
	}
	if cfg.MaxAckPending == 0 {
		cfg.MaxAckPending = DefaultMaxAckPending
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.ErrorBackoffBase == 0 {
		cfg.ErrorBackoffBase = DefaultErrorBackoffBase
	}
	if cfg.ErrorBackoffCap == 0 {
		cfg.ErrorBackoffCap = DefaultErrorBackoffCap
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
}

func (cfg *ConsumerConfig) validate() error {
	if cfg.StreamName == "" {
		return errors.New("stream name is required")
	}
	if cfg.Durable == "" {
		return errors.New("durable name is required")
	}
	if cfg.BatchSize < 0 {
		return errors.New("batch size must not be negative")
	}
	if cfg.AckWait < 0 || cfg.FetchTimeout < 0 {
		return errors.New("ack wait and fetch timeout must not be negative")
	}

	return nil
}
