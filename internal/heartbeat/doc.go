// Package heartbeat keeps long-running jobs alive on the broker.
//
// A JetStream message that is not acknowledged within the consumer's ack-wait is
// redelivered to another worker. Document extraction can outlast the ack-wait, so
// while a job is being processed the Extender periodically sends an in-progress
// signal (+WPI) that resets the ack-wait timer on the broker.
//
// # Lifecycle
//
//  1. Create the extender with New(msg, interval, logger, metrics)
//  2. Start it before processing begins
//  3. Stop it after the outcome was published and before the message is acked
//
// Example:
//
//	ext := heartbeat.New(msg, ackWait/2, logger, metrics)
//	if err := ext.Start(); err != nil {
//	    return err
//	}
//	defer ext.Stop()
//
// The first signal is sent after one interval, not immediately: a message that was
// just delivered already has a full ack-wait ahead of it.
//
// # Failure Handling
//
// A failed signal is logged at Warn level and counted in metrics; the extender keeps
// ticking. If the broker stays unreachable long enough the ack-wait expires and the
// job is redelivered, which is the intended at-least-once behavior.
package heartbeat
