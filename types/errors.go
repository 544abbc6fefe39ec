package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the docqueue library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).

// Worker errors - Public API errors returned by the Worker lifecycle.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when the broker connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrEngineRequired is returned when no processing engine is provided.
	ErrEngineRequired = errors.New("processing engine is required")

	// ErrAlreadyStarted is returned when Run is called on a running worker.
	ErrAlreadyStarted = errors.New("worker already started")

	// ErrStartupFailed wraps every fatal startup condition (connect, provision, consumer).
	ErrStartupFailed = errors.New("worker startup failed")
)

// Broker errors - JetStream provisioning and delivery errors.
var (
	// ErrConnectivity indicates a NATS connectivity issue.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrStreamProvision is returned when a stream cannot be created or updated.
	ErrStreamProvision = errors.New("failed to provision stream")

	// ErrConsumerSetup is returned when the durable consumer cannot be registered.
	ErrConsumerSetup = errors.New("failed to register durable consumer")

	// ErrPublishFailed is returned when an outcome envelope could not be published.
	ErrPublishFailed = errors.New("failed to publish outcome")
)

// ErrorKind classifies a job failure. The value is published verbatim in error envelopes.
type ErrorKind string

// Job failure kinds.
const (
	KindDownload       ErrorKind = "download-error"
	KindFileRead       ErrorKind = "file-read-error"
	KindUnsupportedURI ErrorKind = "unsupported-uri"
	KindProcessing     ErrorKind = "processing-error"
	KindJSONDecode     ErrorKind = "json-decode-error"
	KindGeneral        ErrorKind = "general-error"
)

// ErrorKinds lists every kind in a stable order.
var ErrorKinds = []ErrorKind{
	KindDownload,
	KindFileRead,
	KindUnsupportedURI,
	KindProcessing,
	KindJSONDecode,
	KindGeneral,
}

// String returns the wire value of the kind.
func (k ErrorKind) String() string { return string(k) }

// JobError is a classified failure of a single job.
type JobError struct {
	Kind ErrorKind

	// StatusCode is the HTTP status for download errors caused by a non-2xx response.
	StatusCode int

	Err error
}

// NewJobError wraps err with the given kind.
func NewJobError(kind ErrorKind, err error) *JobError {
	return &JobError{Kind: kind, Err: err}
}

// Errorf creates a JobError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *JobError {
	return &JobError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}

	return e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Errors that are not JobErrors are general errors.
func KindOf(err error) ErrorKind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}

	return KindGeneral
}

// RetryableError marks an engine failure as transient.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable marks err as transient so the job is redelivered instead of failed.
// A nil err returns nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError

	return errors.As(err, &re)
}
