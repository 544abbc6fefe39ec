package docqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/docqueue/internal/heartbeat"
	"github.com/arloliu/docqueue/types"
)

// ackTimeout bounds the double-ack round trip.
const ackTimeout = 5 * time.Second

// task carries the state of one fetched message from fetch to ack.
//
// A task is owned by a single goroutine; only batchID is read by others (drain logging)
// and it never changes after newTask.
type task struct {
	w   *Worker
	msg jetstream.Msg

	job       types.Job
	decodeErr error
	batchID   string
	delivered uint64

	state     types.JobState
	heartbeat *heartbeat.Extender
}

func newTask(w *Worker, msg jetstream.Msg) *task {
	t := &task{w: w, msg: msg, state: types.JobFetched, delivered: 1}

	if err := json.Unmarshal(msg.Data(), &t.job); err != nil {
		t.decodeErr = err
		t.batchID = types.UnknownBatchID
	} else {
		t.batchID = t.job.BatchID
	}
	if meta, err := msg.Metadata(); err == nil {
		t.delivered = meta.NumDelivered
	}

	return t
}

// BatchID returns the batch id of the job, "unknown" if the body could not be decoded.
func (t *task) BatchID() string {
	return t.batchID
}

// run drives the message through the state machine. Every path ends either with an
// ack after a published envelope or with the message left for redelivery.
func (t *task) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.w.logger.Error("job task panicked", "batch_id", t.batchID, "state", t.state.String(), "panic", r)
			t.settlePanic(ctx, r)
		}
		t.stopHeartbeat()
	}()

	if t.delivered > 1 {
		t.w.logger.Info("job redelivered", "batch_id", t.batchID, "delivery", t.delivered)
	}

	t.heartbeat = heartbeat.New(t.msg, t.w.cfg.Consumer.AckWait/2, t.w.logger, t.w.metrics)
	if err := t.heartbeat.Start(); err != nil {
		t.w.logger.Warn("failed to start heartbeat", "batch_id", t.batchID, "error", err)
	}
	t.transition(ctx, types.JobHeartbeating)

	if t.decodeErr != nil {
		t.fail(ctx, types.NewJobError(types.KindJSONDecode, t.decodeErr))
		return
	}

	t.transition(ctx, types.JobResolvingSource)
	data, err := t.w.resolver.Resolve(ctx, t.job.Source.URI)
	if err != nil {
		t.fail(ctx, err)
		return
	}

	t.transition(ctx, types.JobProcessing)
	result, err := t.w.pool.Invoke(ctx, data, t.job.Options)
	if err != nil {
		if types.IsRetryable(err) && !t.lastDelivery() {
			t.redeliver(ctx, err)
			return
		}
		t.fail(ctx, err)

		return
	}
	result.BatchID = t.batchID

	t.transition(ctx, types.JobPublishing)
	if err := t.w.publisher.PublishSuccess(ctx, t.msg, result); err != nil {
		t.abandon(ctx, redeliverPublishFailed, err)
		return
	}
	t.w.metrics.RecordJobOutcome(types.StatusSuccess, "")
	t.ack(ctx)
}

// fail publishes an error envelope for err and acks the message.
func (t *task) fail(ctx context.Context, err error) {
	kind := types.KindOf(err)
	t.transition(ctx, types.JobPublishingError)

	t.w.logger.Warn("job failed", "batch_id", t.batchID, "kind", kind.String(), "error", err)
	t.callHook("error", func() error { return t.w.hooks.OnError(ctx, t.batchID, err) })

	if perr := t.w.publisher.PublishError(ctx, t.msg, t.batchID, kind, err.Error()); perr != nil {
		t.abandon(ctx, redeliverPublishFailed, perr)
		return
	}
	t.w.metrics.RecordJobOutcome(types.StatusError, kind)
	t.ack(ctx)
}

// Redelivery reasons recorded by abandon.
const (
	redeliverPublishFailed = "publish_failed"
	redeliverPanic         = "panic"
)

// abandon leaves the message un-acked; the broker redelivers it after ack-wait
// until MaxDeliver is reached.
func (t *task) abandon(ctx context.Context, reason string, err error) {
	t.stopHeartbeat()
	if reason == redeliverPublishFailed {
		t.w.metrics.RecordPublishFailure()
	}
	t.w.metrics.RecordRedelivery(reason)
	t.w.logger.Error("leaving job for redelivery",
		"batch_id", t.batchID,
		"reason", reason,
		"delivery", t.delivered,
		"error", err,
	)
	t.transition(ctx, types.JobUnackedAwaitingRedelivery)
}

// settlePanic finishes a task whose run panicked. Before an outcome publish was
// attempted the panic is reported as a general-error envelope; from Publishing on,
// or if reporting panics as well, the message is left for redelivery.
func (t *task) settlePanic(ctx context.Context, r any) {
	if t.state.IsTerminal() {
		return
	}
	cause := fmt.Errorf("panic: %v", r)
	if t.state >= types.JobPublishing {
		t.abandon(ctx, redeliverPanic, cause)
		return
	}

	defer func() {
		if r2 := recover(); r2 != nil {
			t.w.logger.Error("job task panicked while reporting a panic", "batch_id", t.batchID, "panic", r2)
			if !t.state.IsTerminal() {
				t.abandon(ctx, redeliverPanic, fmt.Errorf("panic: %v", r2))
			}
		}
	}()
	t.fail(ctx, types.NewJobError(types.KindGeneral, cause))
}

// callHook runs a user hook; errors and panics are logged and never change the job.
func (t *task) callHook(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			t.w.logger.Error("hook panicked", "hook", name, "batch_id", t.batchID, "state", t.state.String(), "panic", r)
		}
	}()
	if err := fn(); err != nil {
		t.w.logger.Error("hook failed", "hook", name, "batch_id", t.batchID, "state", t.state.String(), "error", err)
	}
}

// redeliver naks the message so a transient engine failure is retried.
func (t *task) redeliver(ctx context.Context, err error) {
	t.stopHeartbeat()
	delay := t.w.cfg.Consumer.NakDelay
	if nakErr := t.msg.NakWithDelay(delay); nakErr != nil {
		t.w.logger.Warn("failed to nak job, it will be redelivered after ack-wait",
			"batch_id", t.batchID, "error", nakErr)
	}
	t.w.metrics.RecordRedelivery("retryable")
	t.w.logger.Info("retryable processing error, job redelivered",
		"batch_id", t.batchID,
		"delivery", t.delivered,
		"delay", delay,
		"error", err,
	)
	t.transition(ctx, types.JobUnackedAwaitingRedelivery)
}

func (t *task) ack(ctx context.Context) {
	t.stopHeartbeat()

	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	if err := t.msg.DoubleAck(ackCtx); err != nil {
		// The outcome is already published; a redelivery re-publishes it under the
		// same message id and the broker drops the duplicate.
		if !errors.Is(err, jetstream.ErrMsgAlreadyAckd) {
			t.w.logger.Warn("failed to ack job", "batch_id", t.batchID, "error", err)
		}
	}
	t.transition(ctx, types.JobAcked)
}

func (t *task) lastDelivery() bool {
	maxDeliver := t.w.cfg.Consumer.MaxDeliver

	return maxDeliver > 0 && t.delivered >= uint64(maxDeliver)
}

func (t *task) stopHeartbeat() {
	if t.heartbeat != nil {
		t.heartbeat.Stop()
	}
}

func (t *task) transition(ctx context.Context, to types.JobState) {
	from := t.state
	t.state = to

	t.w.logger.Debug("job state transition",
		"batch_id", t.batchID,
		"from", from.String(),
		"to", to.String(),
	)
	t.callHook("state change", func() error { return t.w.hooks.OnJobStateChanged(ctx, t.batchID, from, to) })
}
