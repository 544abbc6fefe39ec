package types

import "context"

// Output is what an Engine returns for one document.
type Output struct {
	Data     any
	Language string
	Mode     string
}

// Engine is the external extraction engine (OCR, image tagging, ...).
//
// Implementations receive the raw document bytes and the job options and return
// the extracted payload. Process may block for a long time; it is always called
// from the bounded processing pool, never from the broker loop.
//
// An Engine may mark a failure as transient by wrapping it with Retryable, which
// lets the worker redeliver the job instead of publishing a processing error.
type Engine interface {
	Process(ctx context.Context, data []byte, opts Options) (*Output, error)
}

// EngineFunc is a function adapter for Engine.
type EngineFunc func(ctx context.Context, data []byte, opts Options) (*Output, error)

// Process implements Engine interface.
func (f EngineFunc) Process(ctx context.Context, data []byte, opts Options) (*Output, error) {
	return f(ctx, data, opts)
}
