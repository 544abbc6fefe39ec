package docqueue

import (
	"context"
	"net/http"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/afero"

	"github.com/arloliu/docqueue/introspection"
)

// Option configures a Worker with optional dependencies.
type Option func(*workerOptions)

// workerOptions holds optional Worker configuration.
type workerOptions struct {
	hooks      *Hooks
	metrics    MetricsCollector
	logger     Logger
	publisher  OutcomePublisher
	resolver   SourceResolver
	httpClient *http.Client
	fs         afero.Fs
	version    string
	instanceID string
	checkers   []namedChecker
}

type namedChecker struct {
	name string
	fn   introspection.Checker
}

// OutcomePublisher publishes the outcome envelope of a job.
//
// The default implementation is publish.Publisher. A returned error leaves the
// job un-acked so the broker redelivers it after ack-wait.
type OutcomePublisher interface {
	PublishSuccess(ctx context.Context, msg jetstream.Msg, result *Result) error
	PublishError(ctx context.Context, msg jetstream.Msg, batchID string, kind ErrorKind, message string) error
}

// SourceResolver turns a job source URI into document bytes.
//
// The default implementation is source.Resolver. Errors should be *JobError so the
// published error envelope carries the right kind; other errors become general-error.
type SourceResolver interface {
	Resolve(ctx context.Context, uri string) ([]byte, error)
}

// WithHooks sets job lifecycle hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewWorker
//
// Example:
//
//	hooks := &docqueue.Hooks{
//	    OnError: func(ctx context.Context, batchID string, err error) error {
//	        alerts.Notify(batchID, err)
//	        return nil
//	    },
//	}
//	w, err := docqueue.NewWorker(&cfg, conn, engine, docqueue.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *workerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewWorker
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "docqueue")
//	w, err := docqueue.NewWorker(&cfg, conn, engine, docqueue.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *workerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation
//
// Returns:
//   - Option: Functional option for NewWorker
func WithLogger(logger Logger) Option {
	return func(o *workerOptions) {
		o.logger = logger
	}
}

// WithPublisher replaces the JetStream outcome publisher.
func WithPublisher(p OutcomePublisher) Option {
	return func(o *workerOptions) {
		o.publisher = p
	}
}

// WithResolver replaces the source resolver. WithHTTPClient and WithFS are
// ignored when a resolver is given.
func WithResolver(r SourceResolver) Option {
	return func(o *workerOptions) {
		o.resolver = r
	}
}

// WithHTTPClient sets the client used to download http(s) sources.
func WithHTTPClient(c *http.Client) Option {
	return func(o *workerOptions) {
		o.httpClient = c
	}
}

// WithFS sets the filesystem used for file:// sources.
func WithFS(fs afero.Fs) Option {
	return func(o *workerOptions) {
		o.fs = fs
	}
}

// WithVersion sets the version reported by the introspection responder.
func WithVersion(v string) Option {
	return func(o *workerOptions) {
		o.version = v
	}
}

// WithInstanceID overrides the random instance id.
func WithInstanceID(id string) Option {
	return func(o *workerOptions) {
		o.instanceID = id
	}
}

// WithHealthCheck registers a named dependency check. A failing check reports the
// instance as ERROR in health responses.
//
// Example:
//
//	w, err := docqueue.NewWorker(&cfg, conn, engine,
//	    docqueue.WithHealthCheck("engine", func(ctx context.Context) error {
//	        return engine.Ping(ctx)
//	    }),
//	)
func WithHealthCheck(name string, fn introspection.Checker) Option {
	return func(o *workerOptions) {
		o.checkers = append(o.checkers, namedChecker{name: name, fn: fn})
	}
}
