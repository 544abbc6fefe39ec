// Package processing runs the extraction engine on a bounded pool.
package processing

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/internal/metrics"
	"github.com/arloliu/docqueue/types"
)

// ErrNoOutput is wrapped when an engine returns neither output nor error.
var ErrNoOutput = errors.New("engine returned no output")

// Pool bounds concurrent engine invocations.
//
// The engine is CPU/GPU bound, so the pool is sized to the hardware rather than to
// the number of messages in flight. Heartbeats keep running while a job waits for a
// free slot.
type Pool struct {
	engine  types.Engine
	sem     *semaphore.Weighted
	workers int
	logger  types.Logger
	metrics types.MetricsCollector
}

// NewPool creates a pool running at most workers engine calls at once.
//
// Parameters:
//   - engine: Extraction engine (must be non-nil)
//   - workers: Concurrency bound; <= 0 means runtime.NumCPU()
//   - logger: Logger (nil disables logging)
//   - m: Metrics collector (nil disables metrics)
//
// Returns:
//   - *Pool: Ready to use pool
//   - error: types.ErrEngineRequired if engine is nil
func NewPool(engine types.Engine, workers int, logger types.Logger, m types.MetricsCollector) (*Pool, error) {
	if engine == nil {
		return nil, types.ErrEngineRequired
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &Pool{
		engine:  engine,
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
		logger:  logger,
		metrics: m,
	}, nil
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int {
	return p.workers
}

// Invoke runs the engine on data.
//
// The engine runs in its own goroutine. Engine errors and panics are returned as
// *types.JobError of kind processing-error; errors.Unwrap reaches the engine's own
// error so markers such as types.Retryable survive. If ctx ends first, Invoke returns
// while the engine call finishes in the background and releases its slot.
//
// Returns:
//   - *types.Result: Engine output with ProcessingTimeSeconds set (BatchID is left empty)
//   - error: *types.JobError of kind processing-error
func (p *Pool) Invoke(ctx context.Context, data []byte, opts types.Options) (*types.Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, types.NewJobError(types.KindProcessing, fmt.Errorf("waiting for processing slot: %w", err))
	}

	type outcome struct {
		out     *types.Output
		err     error
		elapsed time.Duration
	}
	done := make(chan outcome, 1)

	go func() {
		defer p.sem.Release(1)

		start := time.Now()
		out, err := p.call(ctx, data, opts)
		done <- outcome{out: out, err: err, elapsed: time.Since(start)}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, types.NewJobError(types.KindProcessing, ctx.Err())
	}

	p.metrics.RecordProcessingDuration(res.elapsed.Seconds())
	if res.err != nil {
		return nil, types.NewJobError(types.KindProcessing, res.err)
	}
	if res.out == nil {
		return nil, types.NewJobError(types.KindProcessing, ErrNoOutput)
	}

	return &types.Result{
		Data:                  res.out.Data,
		Language:              res.out.Language,
		Mode:                  res.out.Mode,
		ProcessingTimeSeconds: res.elapsed.Seconds(),
	}, nil
}

// call invokes the engine, converting a panic into an error.
func (p *Pool) call(ctx context.Context, data []byte, opts types.Options) (out *types.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("engine panicked", "panic", r)
			out, err = nil, fmt.Errorf("engine panic: %v", r)
		}
	}()

	return p.engine.Process(ctx, data, opts)
}
