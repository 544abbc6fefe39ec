package docqueue

import "github.com/arloliu/docqueue/types"

// Re-export types from the types package.
//
// Type aliases give callers a single import for the public API while internal
// packages depend on types alone, which keeps the import graph acyclic.
type (
	Job           = types.Job
	Source        = types.Source
	Options       = types.Options
	Result        = types.Result
	Output        = types.Output
	ErrorKind     = types.ErrorKind
	JobError      = types.JobError
	JobState      = types.JobState
	ErrorEnvelope = types.ErrorEnvelope
)

// Re-export interfaces from the types package for convenience.
type (
	Engine           = types.Engine
	EngineFunc       = types.EngineFunc
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Re-export error kinds.
const (
	KindDownload       = types.KindDownload
	KindFileRead       = types.KindFileRead
	KindUnsupportedURI = types.KindUnsupportedURI
	KindProcessing     = types.KindProcessing
	KindJSONDecode     = types.KindJSONDecode
	KindGeneral        = types.KindGeneral
)

// Re-export JobState constants.
const (
	JobFetched                   = types.JobFetched
	JobHeartbeating              = types.JobHeartbeating
	JobResolvingSource           = types.JobResolvingSource
	JobProcessing                = types.JobProcessing
	JobPublishing                = types.JobPublishing
	JobPublishingError           = types.JobPublishingError
	JobAcked                     = types.JobAcked
	JobUnackedAwaitingRedelivery = types.JobUnackedAwaitingRedelivery
)

// Retryable marks an engine error as transient. See types.Retryable.
func Retryable(err error) error {
	return types.Retryable(err)
}
