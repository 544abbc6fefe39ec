package types

// UnknownBatchID is used for envelopes of jobs whose body could not be decoded.
const UnknownBatchID = "unknown"

// Job is the unit of work delivered on the input stream.
//
// Wire format:
//
//	{
//	  "batchId": "b1",
//	  "source":  {"uri": "https://host/doc.png"},
//	  "options": {"preProcessing": ["deskew", "grayscale"]},
//	  "state":   {}
//	}
//
// The state object is opaque to the worker and is carried for upstream producers.
type Job struct {
	BatchID string         `json:"batchId"`
	Source  Source         `json:"source"`
	Options Options        `json:"options,omitempty"`
	State   map[string]any `json:"state,omitempty"`
}

// Source locates the raw document of a job.
type Source struct {
	// URI of the document. Supported schemes: http, https, file.
	URI string `json:"uri"`
}

// Options are engine-specific processing options passed through untouched.
type Options map[string]any

// PreProcessing returns the "preProcessing" option as a string list.
//
// Non-string entries are skipped; a missing or malformed option yields nil.
func (o Options) PreProcessing() []string {
	raw, ok := o["preProcessing"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)

		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}
