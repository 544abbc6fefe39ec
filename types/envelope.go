package types

import "time"

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the outcome of a successful engine call.
type Result struct {
	// BatchID is copied from the job.
	BatchID string

	// Data is the engine-specific payload (extracted text, tags, ...).
	Data any

	// Language and Mode are optional engine metadata.
	Language string
	Mode     string

	// ProcessingTimeSeconds is the wall time spent inside the engine.
	ProcessingTimeSeconds float64
}

// SuccessEnvelope is the wire form of a Result.
type SuccessEnvelope struct {
	BatchID               string  `json:"batchId"`
	Status                string  `json:"status"`
	Data                  any     `json:"data"`
	Language              string  `json:"language,omitempty"`
	Mode                  string  `json:"mode,omitempty"`
	ProcessingTimeSeconds float64 `json:"processingTimeSeconds"`
}

// ErrorEnvelope is published in place of a result when a job fails.
type ErrorEnvelope struct {
	BatchID   string    `json:"batchId"`
	Status    string    `json:"status"`
	ErrorKind ErrorKind `json:"errorKind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSuccessEnvelope builds the wire envelope for a result.
func NewSuccessEnvelope(r *Result) SuccessEnvelope {
	return SuccessEnvelope{
		BatchID:               r.BatchID,
		Status:                StatusSuccess,
		Data:                  r.Data,
		Language:              r.Language,
		Mode:                  r.Mode,
		ProcessingTimeSeconds: r.ProcessingTimeSeconds,
	}
}

// NewErrorEnvelope builds an error envelope stamped with the current UTC time.
func NewErrorEnvelope(batchID string, kind ErrorKind, message string) ErrorEnvelope {
	if batchID == "" {
		batchID = UnknownBatchID
	}

	return ErrorEnvelope{
		BatchID:   batchID,
		Status:    StatusError,
		ErrorKind: kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
