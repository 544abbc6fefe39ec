package subscription

import "errors"

var (
	// ErrConsumerNotReady indicates Fetch or Run was called before Ensure succeeded.
	ErrConsumerNotReady = errors.New("durable consumer not registered; call Ensure first")

	// ErrHandlerRequired indicates Run was called without a handler.
	ErrHandlerRequired = errors.New("message handler is required")
)
