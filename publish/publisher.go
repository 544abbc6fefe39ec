// Package publish delivers job outcomes back to the broker.
//
// Every outcome is published through JetStream and confirmed by a PubAck before the
// job is acknowledged. Outcomes carry a Nats-Msg-Id derived from the job's stream
// sequence, so a job that is redelivered and re-published inside the stream's
// duplicate window yields a single stored outcome.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/internal/natsutil"
	"github.com/arloliu/docqueue/types"
)

// Message headers read or written by the publisher.
const (
	// ReplyToHeader on a job overrides the outcome subject.
	ReplyToHeader = "reply-to"

	// BatchIDHeader and StatusHeader are set on every outcome for routing without decoding.
	BatchIDHeader = "Docqueue-Batch-Id"
	StatusHeader  = "Docqueue-Status"
)

// DefaultFlushTimeout bounds the flush round-trip of a core NATS fallback publish.
const DefaultFlushTimeout = 5 * time.Second

// ErrSubjectRequired is returned by New without a default subject.
var ErrSubjectRequired = errors.New("publish: default subject is required")

// Publisher publishes success and error envelopes.
//
// A Publisher is safe for concurrent use.
type Publisher struct {
	js           jetstream.JetStream
	subject      string
	logger       types.Logger
	flushTimeout time.Duration

	// captured remembers reply-to subjects known to be stored by a stream.
	captured *xsync.Map[string, string]
}

// New creates a publisher sending to subject unless a job names its own reply-to.
//
// Parameters:
//   - js: JetStream context
//   - subject: Default outcome subject
//   - logger: Logger (nil disables logging)
//
// Returns:
//   - *Publisher: Ready to use publisher
//   - error: ErrSubjectRequired if subject is empty
func New(js jetstream.JetStream, subject string, logger types.Logger) (*Publisher, error) {
	if js == nil {
		return nil, types.ErrNATSConnectionRequired
	}
	if subject == "" {
		return nil, ErrSubjectRequired
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Publisher{
		js:           js,
		subject:      subject,
		logger:       logger,
		flushTimeout: DefaultFlushTimeout,
		captured:     xsync.NewMap[string, string](),
	}, nil
}

// Subject returns the default outcome subject.
func (p *Publisher) Subject() string {
	return p.subject
}

// Destination returns the subject the outcome for msg is published to.
func (p *Publisher) Destination(msg jetstream.Msg) string {
	if h := msg.Headers(); h != nil {
		if to := h.Get(ReplyToHeader); to != "" {
			return to
		}
	}

	return p.subject
}

// PublishSuccess publishes the success envelope of result.
//
// Returns:
//   - error: Wrapped types.ErrPublishFailed
func (p *Publisher) PublishSuccess(ctx context.Context, msg jetstream.Msg, result *types.Result) error {
	if result == nil {
		return fmt.Errorf("%w: nil result", types.ErrPublishFailed)
	}

	return p.publish(ctx, msg, result.BatchID, types.StatusSuccess, types.NewSuccessEnvelope(result))
}

// PublishError publishes an error envelope. An empty batchID becomes "unknown".
//
// Returns:
//   - error: Wrapped types.ErrPublishFailed
func (p *Publisher) PublishError(ctx context.Context, msg jetstream.Msg, batchID string, kind types.ErrorKind, message string) error {
	env := types.NewErrorEnvelope(batchID, kind, message)

	return p.publish(ctx, msg, env.BatchID, types.StatusError, env)
}

func (p *Publisher) publish(ctx context.Context, msg jetstream.Msg, batchID, status string, envelope any) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("%w: encode %s envelope: %w", types.ErrPublishFailed, status, err)
	}

	subject := p.Destination(msg)
	out := nats.NewMsg(subject)
	out.Data = data
	out.Header.Set(BatchIDHeader, batchID)
	out.Header.Set(StatusHeader, status)
	if id := MessageID(batchID, msg); id != "" {
		out.Header.Set(jetstream.MsgIDHeader, id)
	}

	if subject != p.subject && !p.hasStream(ctx, subject) {
		// Ad-hoc reply subjects (caller inboxes) are not stored by any stream.
		return p.publishCore(ctx, out)
	}

	ack, err := p.js.PublishMsg(ctx, out)
	if err == nil {
		if ack.Duplicate {
			p.logger.Debug("outcome already stored, duplicate suppressed", "batchId", batchID, "subject", subject)
		}

		return nil
	}

	if !natsutil.IsNoResponders(err) {
		return fmt.Errorf("%w: %s to %s: %w", types.ErrPublishFailed, status, subject, err)
	}

	// The stream went away between lookup and publish.
	p.captured.Delete(subject)

	return p.publishCore(ctx, out)
}

// hasStream reports whether a stream stores subject. Lookup failures other than
// "not found" are treated as captured so the JetStream publish reports the error.
func (p *Publisher) hasStream(ctx context.Context, subject string) bool {
	if _, ok := p.captured.Load(subject); ok {
		return true
	}

	name, err := p.js.StreamNameBySubject(ctx, subject)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return false
	}
	if err == nil {
		p.captured.Store(subject, name)
	}

	return true
}

func (p *Publisher) publishCore(ctx context.Context, out *nats.Msg) error {
	nc := p.js.Conn()
	if err := nc.PublishMsg(out); err != nil {
		return fmt.Errorf("%w: core publish to %s: %w", types.ErrPublishFailed, out.Subject, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.flushTimeout)
		defer cancel()
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: flush to %s: %w", types.ErrPublishFailed, out.Subject, err)
	}
	p.logger.Debug("outcome published without stream", "subject", out.Subject)

	return nil
}

// MessageID derives the dedup id of the outcome of msg.
//
// The id is stable across redeliveries of the same job because it depends only on
// the batch id, the stream name and the job's stream sequence. Messages without
// JetStream metadata get no id.
func MessageID(batchID string, msg jetstream.Msg) string {
	meta, err := msg.Metadata()
	if err != nil || meta == nil {
		return ""
	}
	if batchID == "" {
		batchID = types.UnknownBatchID
	}

	h := xxh3.HashString(meta.Stream + ":" + strconv.FormatUint(meta.Sequence.Stream, 10))

	return batchID + "-" + strconv.FormatUint(h, 16)
}
