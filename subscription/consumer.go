package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/docqueue/internal/natsutil"
	"github.com/arloliu/docqueue/types"
)

// FetchStatus tells whether a fetch produced work.
type FetchStatus int

const (
	// FetchIdle means the fetch timed out without messages.
	FetchIdle FetchStatus = iota
	// FetchMessages means at least one message was returned.
	FetchMessages
)

// String returns the metrics label of the status.
func (s FetchStatus) String() string {
	if s == FetchMessages {
		return "messages"
	}

	return "idle"
}

// FetchResult is the outcome of one pull request.
//
// Messages is empty exactly when Status is FetchIdle.
type FetchResult struct {
	Status   FetchStatus
	Messages []jetstream.Msg
}

// Consumer manages the shared durable pull consumer on the input stream.
type Consumer struct {
	js      jetstream.JetStream
	config  ConsumerConfig
	durable string
	logger  types.Logger
	metrics types.MetricsCollector

	mu   sync.RWMutex
	cons jetstream.Consumer
}

// NewConsumer creates a consumer manager. No broker call is made until Ensure.
//
// Parameters:
//   - js: JetStream context (must be non-nil)
//   - cfg: Consumer configuration with required StreamName and Durable
//
// Returns:
//   - *Consumer: Initialized manager with defaults applied
//   - error: Configuration error
//
// Example:
//
//	cons, err := subscription.NewConsumer(js, subscription.ConsumerConfig{
//	    StreamName: "DOCUMENT_JOBS",
//	    Durable:    "ocr-workers",
//	    AckWait:    10 * time.Minute,
//	})
//	if err := cons.Ensure(ctx); err != nil { ... }
//	err = cons.Run(ctx, handler)
func NewConsumer(js jetstream.JetStream, cfg ConsumerConfig) (*Consumer, error) {
	if js == nil {
		return nil, errors.New("JetStream context is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &Consumer{
		js:      js,
		config:  cfg,
		durable: sanitizeConsumerName(cfg.Durable),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Ensure registers the durable consumer, creating or updating it.
//
// Re-registering an existing durable keeps its delivery state, so a restarted worker
// resumes where the group left off. Failures are retried MaxRetries times.
//
// Returns:
//   - error: Wrapped types.ErrConsumerSetup after all attempts failed
func (c *Consumer) Ensure(ctx context.Context) error {
	cfg := jetstream.ConsumerConfig{
		Name:          c.durable,
		Durable:       c.durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.config.AckWait,
		MaxDeliver:    c.config.MaxDeliver,
		MaxAckPending: c.config.MaxAckPending,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	switch len(c.config.FilterSubjects) {
	case 0:
	case 1:
		cfg.FilterSubject = c.config.FilterSubjects[0]
	default:
		cfg.FilterSubjects = c.config.FilterSubjects
	}

	var cons jetstream.Consumer
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", types.ErrConsumerSetup, ctx.Err())
		}
		cons, lastErr = c.js.CreateOrUpdateConsumer(ctx, c.config.StreamName, cfg)
		if lastErr == nil {
			break
		}
		if attempt >= c.config.MaxRetries {
			return fmt.Errorf("%w: %s on %s after %d attempts: %w",
				types.ErrConsumerSetup, c.durable, c.config.StreamName, c.config.MaxRetries+1, lastErr)
		}
		c.metrics.RecordControlRetry("ensure_consumer")
		c.logger.Debug("retrying consumer registration", "durable", c.durable, "attempt", attempt+1, "error", lastErr)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", types.ErrConsumerSetup, ctx.Err())
		case <-time.After(c.config.RetryBackoff):
		}
	}

	c.mu.Lock()
	c.cons = cons
	c.mu.Unlock()

	c.logger.Info("durable consumer ready",
		"stream", c.config.StreamName,
		"durable", c.durable,
		"ackWait", c.config.AckWait,
		"maxDeliver", c.config.MaxDeliver)

	return nil
}

// Fetch pulls up to BatchSize messages, waiting at most FetchTimeout.
//
// An expiry without messages is reported as FetchIdle, not as an error. If the pull
// fails after some messages arrived, the messages are returned and the error is logged.
func (c *Consumer) Fetch(ctx context.Context) (FetchResult, error) {
	c.mu.RLock()
	cons := c.cons
	c.mu.RUnlock()
	if cons == nil {
		return FetchResult{}, ErrConsumerNotReady
	}
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}

	batch, err := cons.Fetch(c.config.BatchSize, jetstream.FetchMaxWait(c.config.FetchTimeout))
	if err != nil {
		c.metrics.RecordFetch("error", 0)
		return FetchResult{}, fmt.Errorf("fetch: %w", err)
	}

	msgs := make([]jetstream.Msg, 0, c.config.BatchSize)
	for msg := range batch.Messages() {
		msgs = append(msgs, msg)
	}

	if err := batch.Error(); err != nil && !isFetchExpiry(err) {
		if len(msgs) == 0 {
			c.metrics.RecordFetch("error", 0)
			return FetchResult{}, fmt.Errorf("fetch: %w", err)
		}
		c.logger.Warn("fetch ended with error after partial batch", "count", len(msgs), "error", err)
	}

	result := FetchResult{Status: FetchIdle}
	if len(msgs) > 0 {
		result = FetchResult{Status: FetchMessages, Messages: msgs}
	}
	c.metrics.RecordFetch(result.Status.String(), len(msgs))

	return result, nil
}

// Run drives the fetch loop until ctx is cancelled.
//
// Each iteration fetches a batch, dispatches every message to handler (concurrently
// within the batch) and waits for the whole batch before fetching again. Idle fetches
// retry immediately; failed fetches back off with capped jitter. If the durable was
// deleted on the broker it is registered again.
//
// Returns:
//   - error: nil after ctx cancellation; ErrConsumerNotReady or ErrHandlerRequired on misuse
func (c *Consumer) Run(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return ErrHandlerRequired
	}
	c.mu.RLock()
	ready := c.cons != nil
	c.mu.RUnlock()
	if !ready {
		return ErrConsumerNotReady
	}

	backoff := newFetchBackoff(c.config.ErrorBackoffBase, c.config.ErrorBackoffCap, c.config.RetrySeed)
	c.logger.Debug("starting fetch loop", "durable", c.durable, "batchSize", c.config.BatchSize)

	for {
		if ctx.Err() != nil {
			c.logger.Debug("fetch loop stopped", "durable", c.durable)
			return nil
		}

		result, err := c.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.handleFetchError(ctx, err)

			delay := backoff.Next()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}

			continue
		}
		backoff.Reset()

		if result.Status == FetchIdle {
			continue
		}

		c.dispatch(ctx, handler, result.Messages)
	}
}

func (c *Consumer) handleFetchError(ctx context.Context, err error) {
	// A pull against a deleted durable has no responder on the broker.
	if errors.Is(err, jetstream.ErrConsumerNotFound) ||
		errors.Is(err, jetstream.ErrConsumerDeleted) ||
		errors.Is(err, nats.ErrNoResponders) {
		c.logger.Warn("durable consumer missing, registering again", "durable", c.durable, "error", err)
		if err := c.Ensure(ctx); err != nil {
			c.logger.Error("failed to re-register durable consumer", "durable", c.durable, "error", err)
		}

		return
	}

	if natsutil.IsConnectivityError(err) {
		c.logger.Warn("fetch failed, broker unavailable", "durable", c.durable, "error", err)
		return
	}
	c.logger.Error("fetch failed", "durable", c.durable, "error", err)
}

func (c *Consumer) dispatch(ctx context.Context, handler MessageHandler, msgs []jetstream.Msg) {
	if len(msgs) == 1 {
		c.handle(ctx, handler, msgs[0])
		return
	}

	var g errgroup.Group
	g.SetLimit(len(msgs))
	for _, msg := range msgs {
		g.Go(func() error {
			c.handle(ctx, handler, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg jetstream.Msg) {
	if err := handler.Handle(ctx, msg); err != nil {
		c.logger.Warn("message handler returned error", "subject", msg.Subject(), "error", err)
	}
}

// Info returns the broker's view of the durable consumer.
func (c *Consumer) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	c.mu.RLock()
	cons := c.cons
	c.mu.RUnlock()
	if cons == nil {
		return nil, ErrConsumerNotReady
	}

	info, err := cons.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer info: %w", err)
	}

	return info, nil
}

// Durable returns the sanitized durable name registered on the broker.
func (c *Consumer) Durable() string {
	return c.durable
}

// Config returns the effective configuration after defaults.
func (c *Consumer) Config() ConsumerConfig {
	return c.config
}

// isFetchExpiry reports whether err only signals that the pull expired.
func isFetchExpiry(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// sanitizeConsumerName replaces characters NATS forbids in consumer names with '_'.
//
// Forbidden: whitespace, '.', '*', '>', path separators and non-printable characters.
func sanitizeConsumerName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r <= ' ' || r == 127:
			return '_'
		case r == '.' || r == '*' || r == '>' || r == '/' || r == '\\':
			return '_'
		default:
			return r
		}
	}, name)
}
