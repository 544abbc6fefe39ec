package heartbeat

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/docqueue/types"
)

// Common errors for heartbeat operations.
var (
	ErrAlreadyStarted  = errors.New("extender already started")
	ErrInvalidInterval = errors.New("heartbeat interval must be positive")
)

// Signaler is the part of a JetStream message the extender needs.
//
// jetstream.Msg satisfies it.
type Signaler interface {
	InProgress() error
}

// Extender periodically signals that a message is still being worked on.
//
// An Extender is bound to one message and is not reusable: once stopped it cannot
// be started again.
type Extender struct {
	msg      Signaler
	interval time.Duration
	logger   types.Logger
	metrics  types.MetricsCollector

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	sent   atomic.Int64
	failed atomic.Int64
}

// New creates a new heartbeat extender for msg.
//
// Parameters:
//   - msg: Message whose ack-wait should be extended
//   - interval: Time between signals, typically AckWait/2
//   - logger: Logger for signal failures
//   - metrics: Metrics collector for signal outcomes
//
// Returns:
//   - *Extender: New extender instance, not yet running
func New(msg Signaler, interval time.Duration, logger types.Logger, metrics types.MetricsCollector) *Extender {
	return &Extender{
		msg:      msg,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background goroutine.
//
// Returns:
//   - error: ErrAlreadyStarted if started before (even if since stopped),
//     ErrInvalidInterval if the interval is not positive
func (e *Extender) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.stopped {
		return ErrAlreadyStarted
	}
	if e.interval <= 0 {
		return ErrInvalidInterval
	}

	e.started = true
	go e.loop()

	return nil
}

// Stop aborts the pending wait and blocks until the goroutine exits.
//
// Stop is idempotent and safe to call on an extender that was never started.
// No signal is sent after Stop returns.
func (e *Extender) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	running := e.started
	close(e.stopCh)
	e.mu.Unlock()

	if running {
		<-e.doneCh
	}
}

// Sent returns the number of signals the broker accepted.
func (e *Extender) Sent() int64 {
	return e.sent.Load()
}

// Failed returns the number of signals that could not be sent.
func (e *Extender) Failed() int64 {
	return e.failed.Load()
}

func (e *Extender) loop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			// Stop may have raced the tick; never signal once it was requested.
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.signal()
		}
	}
}

func (e *Extender) signal() {
	if err := e.msg.InProgress(); err != nil {
		e.failed.Add(1)
		e.recordMetric(false)
		if e.logger != nil {
			e.logger.Warn("heartbeat signal failed", "error", err)
		}

		return
	}

	e.sent.Add(1)
	e.recordMetric(true)
}

// recordMetric records heartbeat success/failure to metrics collector.
func (e *Extender) recordMetric(success bool) {
	if e.metrics != nil {
		e.metrics.RecordHeartbeat(success)
	}
}
