// Package subscription binds workers to the durable pull consumer that feeds them jobs.
//
// Every worker replica registers the same durable name on the input stream, which
// makes them competing consumers: each job is handed to exactly one replica at a
// time and redelivered to any replica once its ack-wait expires.
//
// The package includes:
//
//   - Consumer: durable registration, explicit fetch results, and the fetch loop
//   - MessageHandler: the per-message callback, always responsible for ack/nak
package subscription
