package subscription

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
)

// MessageHandler defines the contract for processing JetStream messages yielded by the
// Consumer fetch loop.
//
// Behavior summary:
//   - The loop fetches a batch and calls Handle once per message, concurrently for
//     batches larger than one. The next fetch is issued only after every Handle of the
//     current batch returned.
//   - The loop never acknowledges on the handler's behalf. The handler must call
//     msg.Ack/Nak/Term exactly once, or deliberately leave the message un-acked so the
//     broker redelivers it after AckWait.
//   - A returned error is logged and otherwise ignored.
//
// Redelivery semantics:
//   - With explicit ack policy, failing to ACK within AckWait causes redelivery.
//     Use msg.InProgress() to extend the deadline when work takes longer than AckWait.
//   - Exactly-once is not guaranteed; design handlers to be idempotent.
//
// Parameters:
//   - ctx: The loop's context; cancelled at shutdown. Handlers that must finish in-flight
//     work should detach from it (context.WithoutCancel).
//   - msg: The JetStream message to process
//
// Returns:
//   - error: nil on success; non-nil is logged by the loop.
//
// Example:
//
//	var h MessageHandler = MessageHandlerFunc(func(ctx context.Context, msg jetstream.Msg) error {
//	    if err := process(msg.Data()); err != nil {
//	        return msg.Nak()
//	    }
//	    return msg.DoubleAck(ctx)
//	})
type MessageHandler interface {
	// Handle processes a single message and owns its disposition.
	Handle(ctx context.Context, msg jetstream.Msg) error
}

// MessageHandlerFunc is a function adapter for MessageHandler.
type MessageHandlerFunc func(ctx context.Context, msg jetstream.Msg) error

// Handle implements MessageHandler interface.
func (f MessageHandlerFunc) Handle(ctx context.Context, msg jetstream.Msg) error { return f(ctx, msg) }
