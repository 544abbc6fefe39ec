package docqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/docqueue/broker"
	"github.com/arloliu/docqueue/internal/hooks"
	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/internal/metrics"
	"github.com/arloliu/docqueue/introspection"
	"github.com/arloliu/docqueue/processing"
	"github.com/arloliu/docqueue/publish"
	"github.com/arloliu/docqueue/source"
	"github.com/arloliu/docqueue/stream"
	"github.com/arloliu/docqueue/subscription"
)

// Worker consumes document jobs from a JetStream work-queue and publishes one
// outcome envelope per job.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Run may be called only once
//
// Lifecycle:
//   - Create with NewWorker()
//   - Call Run() with a context cancelled on shutdown
//   - Run returns after in-flight jobs were drained or the drain timeout passed
//
// Testing:
// Consumers can define minimal interfaces for mocking:
//
//	type JobRunner interface {
//	    Run(ctx context.Context) error
//	    InFlight() int
//	}
type Worker struct {
	cfg    Config
	conn   *broker.Connection
	engine Engine

	// Optional dependencies
	hooks   Hooks
	metrics MetricsCollector
	logger  Logger

	// Components
	provisioner *stream.Provisioner
	consumer    *subscription.Consumer
	resolver    SourceResolver
	pool        *processing.Pool
	publisher   OutcomePublisher
	responder   *introspection.Responder

	instanceID string

	// In-flight registry, keyed by a per-worker task sequence.
	tasks   *xsync.Map[uint64, *task]
	taskSeq atomic.Uint64
	wg      sync.WaitGroup

	started atomic.Bool
}

// NewWorker creates a Worker. No broker I/O happens until Run.
//
// Parameters:
//   - cfg: Configuration; missing values are filled with defaults
//   - conn: Shared broker connection
//   - engine: Extraction engine invoked for every job
//   - opts: Optional configuration (hooks, metrics, logger, publisher, resolver, ...)
//
// Returns:
//   - *Worker: Initialized worker
//   - error: ErrInvalidConfig, ErrNATSConnectionRequired or ErrEngineRequired
//
// Example:
//
//	cfg := docqueue.DefaultConfig()
//	conn, _ := broker.Connect(cfg.Broker, logger)
//	w, err := docqueue.NewWorker(&cfg, conn, myEngine, docqueue.WithLogger(logger))
func NewWorker(cfg *Config, conn *broker.Connection, engine Engine, opts ...Option) (*Worker, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}
	if engine == nil {
		return nil, ErrEngineRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &workerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}
	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}
	cfg.ValidateWithWarnings(loggerInstance)

	hooksInstance := hooks.NewNop()
	if options.hooks != nil {
		hooksInstance = hooks.Fill(*options.hooks)
	}

	instanceID := options.instanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	w := &Worker{
		cfg:        *cfg,
		conn:       conn,
		engine:     engine,
		hooks:      hooksInstance,
		metrics:    metricsCollector,
		logger:     loggerInstance,
		instanceID: instanceID,
		tasks:      xsync.NewMap[uint64, *task](),
	}

	if err := w.buildComponents(options); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Worker) buildComponents(options *workerOptions) error {
	js := w.conn.JetStream()

	w.provisioner = stream.NewProvisioner(js, w.logger, w.metrics)

	consumer, err := subscription.NewConsumer(js, subscription.ConsumerConfig{
		StreamName:     w.cfg.InputStream.Name,
		Durable:        w.cfg.Consumer.Durable,
		FilterSubjects: w.cfg.Consumer.FilterSubjects,
		AckWait:        w.cfg.Consumer.AckWait,
		MaxDeliver:     w.cfg.Consumer.MaxDeliver,
		MaxAckPending:  w.cfg.Consumer.MaxAckPending,
		BatchSize:      w.cfg.Consumer.BatchSize,
		FetchTimeout:   w.cfg.Consumer.FetchTimeout,
		Logger:         w.logger,
		Metrics:        w.metrics,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	w.consumer = consumer

	w.resolver = options.resolver
	if w.resolver == nil {
		srcOpts := []source.Option{source.WithLogger(w.logger)}
		if options.httpClient != nil {
			srcOpts = append(srcOpts, source.WithHTTPClient(options.httpClient))
		}
		if options.fs != nil {
			srcOpts = append(srcOpts, source.WithFS(options.fs))
		}
		resolver, err := source.NewResolver(w.cfg.Source, srcOpts...)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		w.resolver = resolver
	}

	pool, err := processing.NewPool(w.engine, w.cfg.Workers, w.logger, w.metrics)
	if err != nil {
		return err
	}
	w.pool = pool

	w.publisher = options.publisher
	if w.publisher == nil {
		publisher, err := publish.New(js, w.cfg.OutputSubject, w.logger)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		w.publisher = publisher
	}

	icfg := w.cfg.Introspection
	if options.version != "" {
		icfg.Version = options.version
	}
	respOpts := []introspection.Option{
		introspection.WithInstanceID(w.instanceID),
		introspection.WithInFlight(w.InFlight),
		introspection.WithLogger(w.logger),
	}
	for _, c := range options.checkers {
		respOpts = append(respOpts, introspection.WithChecker(c.name, c.fn))
	}
	responder, err := introspection.New(w.conn.Conn(), icfg, respOpts...)
	if err != nil {
		return err
	}
	w.responder = responder

	return nil
}

// Run provisions the streams, registers the durable consumer, starts the
// introspection responder and processes jobs until ctx is cancelled.
//
// After cancellation no new job is fetched. Jobs already in flight keep running on a
// context detached from ctx and are awaited for at most Config.DrainTimeout(); jobs
// still running after that are left for the broker to redeliver.
//
// Parameters:
//   - ctx: Lifetime of the worker
//
// Returns:
//   - error: ErrAlreadyStarted on a second call, wrapped ErrStartupFailed when startup
//     fails, nil after a normal shutdown
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := w.start(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStartupFailed, err)
	}
	defer func() {
		if err := w.responder.Stop(); err != nil {
			w.logger.Warn("failed to stop introspection responder", "error", err)
		}
	}()

	w.logger.Info("worker started",
		"instance_id", w.instanceID,
		"stream", w.cfg.InputStream.Name,
		"durable", w.consumer.Durable(),
		"output_subject", w.cfg.OutputSubject,
		"workers", w.pool.Workers(),
	)

	runErr := w.consumer.Run(ctx, subscription.MessageHandlerFunc(w.handle))

	w.drain()
	w.logger.Info("worker stopped", "instance_id", w.instanceID)

	return runErr
}

func (w *Worker) start(ctx context.Context) error {
	if _, err := w.provisioner.EnsureStream(ctx, w.cfg.InputStream); err != nil {
		return err
	}
	if _, err := w.provisioner.EnsureStream(ctx, w.cfg.OutputStream); err != nil {
		return err
	}
	if err := w.consumer.Ensure(ctx); err != nil {
		return err
	}

	return w.responder.Start()
}

// handle runs one message as a task. It returns when the task finished or ctx
// was cancelled; in the latter case the task keeps running and is awaited by drain.
func (w *Worker) handle(ctx context.Context, msg jetstream.Msg) error {
	t := newTask(w, msg)
	id := w.taskSeq.Add(1)
	w.tasks.Store(id, t)
	w.metrics.RecordInFlight(w.tasks.Size())

	done := make(chan struct{})
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(done)
		defer func() {
			w.tasks.Delete(id)
			w.metrics.RecordInFlight(w.tasks.Size())
		}()

		t.run(context.WithoutCancel(ctx))
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	return nil
}

// drain waits for in-flight tasks for at most DrainTimeout.
func (w *Worker) drain() {
	if w.tasks.Size() == 0 {
		return
	}

	timeout := w.cfg.DrainTimeout()
	w.logger.Info("draining in-flight jobs", "count", w.tasks.Size(), "timeout", timeout)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("in-flight jobs drained")
	case <-time.After(timeout):
		var pending []string
		w.tasks.Range(func(_ uint64, t *task) bool {
			pending = append(pending, t.BatchID())
			return true
		})
		w.logger.Warn("drain timeout, unfinished jobs will be redelivered", "batch_ids", pending)
	}
}

// InFlight returns the number of jobs currently being processed.
func (w *Worker) InFlight() int {
	return w.tasks.Size()
}

// InstanceID returns the id of this worker instance.
func (w *Worker) InstanceID() string {
	return w.instanceID
}

// Health returns the current health snapshot served on the health subjects.
func (w *Worker) Health(ctx context.Context) introspection.Health {
	return w.responder.Health(ctx)
}
