package docqueue

import "github.com/arloliu/docqueue/types"

// Sentinel errors returned by the Worker.
//
// They alias the definitions in the types package so callers can match them
// with errors.Is without importing types.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrNATSConnectionRequired is returned when the broker connection is nil.
	ErrNATSConnectionRequired = types.ErrNATSConnectionRequired

	// ErrEngineRequired is returned when no processing engine is provided.
	ErrEngineRequired = types.ErrEngineRequired

	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrStartupFailed wraps fatal startup conditions (stream provisioning, consumer setup).
	ErrStartupFailed = types.ErrStartupFailed

	// ErrConnectivity indicates a NATS connectivity issue.
	ErrConnectivity = types.ErrConnectivity

	// ErrStreamProvision is returned when a stream cannot be created or updated.
	ErrStreamProvision = types.ErrStreamProvision

	// ErrConsumerSetup is returned when the durable consumer cannot be registered.
	ErrConsumerSetup = types.ErrConsumerSetup

	// ErrPublishFailed is returned when an outcome envelope could not be published.
	ErrPublishFailed = types.ErrPublishFailed
)
