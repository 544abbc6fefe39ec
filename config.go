package docqueue

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/docqueue/broker"
	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/introspection"
	"github.com/arloliu/docqueue/source"
	"github.com/arloliu/docqueue/stream"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "DOCQUEUE_"

// ConsumerConfig controls the shared durable consumer and message handling.
type ConsumerConfig struct {
	// Durable is the consumer name shared by every worker replica. Replicas bound
	// to the same durable compete for jobs.
	Durable string `yaml:"durable"`

	// FilterSubjects narrows the input subjects delivered. Empty means the whole stream.
	FilterSubjects []string `yaml:"filterSubjects"`

	// AckWait is how long the broker waits for an ack before redelivering.
	// Heartbeats are sent every AckWait/2 while a job is processed.
	//
	// Default: 600 seconds
	AckWait time.Duration `yaml:"ackWait"`

	// MaxDeliver bounds deliveries of a single job. -1 means unlimited.
	//
	// Default: 3
	MaxDeliver int `yaml:"maxDeliver"`

	// MaxAckPending caps unacknowledged jobs across all replicas.
	MaxAckPending int `yaml:"maxAckPending"`

	// BatchSize is the number of jobs fetched and processed concurrently.
	//
	// Default: 1
	BatchSize int `yaml:"batchSize"`

	// FetchTimeout is how long one pull waits before reporting idle.
	//
	// Default: 5 seconds
	FetchTimeout time.Duration `yaml:"fetchTimeout"`

	// NakDelay is the redelivery delay for jobs that failed with a retryable error.
	//
	// Default: 5 seconds
	NakDelay time.Duration `yaml:"nakDelay"`
}

// MetricsConfig controls the Prometheus endpoint of the CLI.
type MetricsConfig struct {
	// Addr is the listen address of /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
}

// Config is the configuration of a Worker.
//
// All duration fields accept standard Go duration strings like "30s", "10m".
type Config struct {
	// Broker is the NATS connection configuration.
	Broker broker.Config `yaml:"broker"`

	// InputStream is the work-queue stream jobs are published to.
	InputStream stream.Spec `yaml:"inputStream"`

	// OutputStream is the stream that captures outcome envelopes.
	OutputStream stream.Spec `yaml:"outputStream"`

	// OutputSubject is where envelopes go when a job carries no reply-to header.
	OutputSubject string `yaml:"outputSubject"`

	Consumer ConsumerConfig `yaml:"consumer"`

	// Source controls how job URIs are resolved to document bytes.
	Source source.Config `yaml:"source"`

	// Workers bounds concurrent engine calls. 0 means runtime.NumCPU().
	Workers int `yaml:"workers"`

	Introspection introspection.Config `yaml:"introspection"`

	Log logging.Config `yaml:"log"`

	Metrics MetricsConfig `yaml:"metrics"`

	// ShutdownTimeout bounds how long in-flight jobs are drained after shutdown
	// is requested. 0 means Consumer.AckWait.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Broker: broker.Config{
			URL:            broker.DefaultURL,
			Name:           broker.DefaultClientName,
			ConnectTimeout: broker.DefaultConnectTimeout,
			ReconnectWait:  broker.DefaultReconnectWait,
			MaxReconnects:  broker.DefaultMaxReconnects,
		},
		InputStream: stream.Spec{
			Name:            "DOCUMENT_JOBS",
			Subjects:        []string{"docqueue.jobs.>"},
			MaxAge:          stream.DefaultMaxAge,
			DuplicateWindow: stream.DefaultDuplicateWindow,
		},
		// The output DuplicateWindow is left zero: SetDefaults derives it from Consumer.
		OutputStream: stream.Spec{
			Name:     "DOCUMENT_RESULTS",
			Subjects: []string{"docqueue.results.>"},
			MaxAge:   stream.DefaultMaxAge,
		},
		OutputSubject: "docqueue.results.default",
		Consumer: ConsumerConfig{
			Durable:       "docqueue-workers",
			AckWait:       600 * time.Second,
			MaxDeliver:    3,
			MaxAckPending: 1000,
			BatchSize:     1,
			FetchTimeout:  5 * time.Second,
			NakDelay:      5 * time.Second,
		},
		Source: source.Config{
			Mode:          source.ModeLocal,
			DocumentsRoot: "documents",
			MaxBytes:      source.DefaultMaxBytes,
			HTTPTimeout:   source.DefaultHTTPTimeout,
		},
		Introspection: introspection.Config{
			HealthSubject:     introspection.DefaultHealthSubject,
			VersionSubject:    introspection.DefaultVersionSubject,
			VersionQueueGroup: introspection.DefaultVersionQueueGroup,
		},
		Log: logging.Config{
			Level:  "info",
			Format: logging.FormatConsole,
		},
		Metrics: MetricsConfig{
			Addr:      ":9090",
			Namespace: "docqueue",
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	cfg.Broker.ApplyDefaults()

	setStreamDefaults(&cfg.InputStream, defaults.InputStream)
	setStreamDefaults(&cfg.OutputStream, defaults.OutputStream)
	if cfg.OutputSubject == "" {
		cfg.OutputSubject = defaults.OutputSubject
	}

	c := &cfg.Consumer
	if c.Durable == "" {
		c.Durable = defaults.Consumer.Durable
	}
	if c.AckWait == 0 {
		c.AckWait = defaults.Consumer.AckWait
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = defaults.Consumer.MaxDeliver
	}
	if c.MaxAckPending == 0 {
		c.MaxAckPending = defaults.Consumer.MaxAckPending
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaults.Consumer.BatchSize
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = defaults.Consumer.FetchTimeout
	}
	if c.NakDelay == 0 {
		c.NakDelay = defaults.Consumer.NakDelay
	}

	if cfg.OutputStream.DuplicateWindow == 0 {
		cfg.OutputStream.DuplicateWindow = outcomeDedupWindow(cfg.Consumer, cfg.OutputStream.MaxAge)
	}

	if cfg.Source.Mode == "" {
		cfg.Source.Mode = defaults.Source.Mode
	}
	if cfg.Source.Mode == source.ModeLocal && cfg.Source.DocumentsRoot == "" {
		cfg.Source.DocumentsRoot = defaults.Source.DocumentsRoot
	}
	if cfg.Source.MaxBytes == 0 {
		cfg.Source.MaxBytes = defaults.Source.MaxBytes
	}
	if cfg.Source.HTTPTimeout == 0 {
		cfg.Source.HTTPTimeout = defaults.Source.HTTPTimeout
	}

	if cfg.Introspection.HealthSubject == "" {
		cfg.Introspection.HealthSubject = defaults.Introspection.HealthSubject
	}
	if cfg.Introspection.VersionSubject == "" {
		cfg.Introspection.VersionSubject = defaults.Introspection.VersionSubject
	}
	if cfg.Introspection.VersionQueueGroup == "" {
		cfg.Introspection.VersionQueueGroup = defaults.Introspection.VersionQueueGroup
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaults.Metrics.Namespace
	}
	// Note: an empty Metrics.Addr is valid (endpoint disabled) and a zero
	// ShutdownTimeout falls back to AckWait, so neither gets a default here.
}

// outcomeDedupWindow is the output stream duplicate window covering every delivery
// of a job, so a job re-published after an ack-wait redelivery stores one outcome.
// It never exceeds maxAge.
func outcomeDedupWindow(c ConsumerConfig, maxAge time.Duration) time.Duration {
	deliveries := c.MaxDeliver
	if deliveries <= 0 {
		deliveries = DefaultConfig().Consumer.MaxDeliver
	}
	window := c.AckWait * time.Duration(deliveries)
	if maxAge > 0 && window > maxAge {
		window = maxAge
	}

	return window
}

func setStreamDefaults(s *stream.Spec, def stream.Spec) {
	if s.Name == "" {
		s.Name = def.Name
	}
	if len(s.Subjects) == 0 {
		s.Subjects = append([]string(nil), def.Subjects...)
	}
	if s.MaxAge == 0 {
		s.MaxAge = def.MaxAge
	}
	if s.DuplicateWindow == 0 {
		s.DuplicateWindow = def.DuplicateWindow
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - Broker URL set, TLS certificate and key configured together
//   - Both streams have a name and at least one subject
//   - OutputSubject and Consumer.Durable are set
//   - Consumer.AckWait >= 1s (heartbeats run at AckWait/2)
//   - Consumer.MaxDeliver is -1 or positive, BatchSize and FetchTimeout positive
//   - Source.Mode is local or remote
//   - Log.Format is console or json
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

func (cfg *Config) validate() error {
	if err := cfg.Broker.Validate(); err != nil {
		return err
	}

	for _, s := range []struct {
		field string
		spec  stream.Spec
	}{{"inputStream", cfg.InputStream}, {"outputStream", cfg.OutputStream}} {
		if s.spec.Name == "" {
			return fmt.Errorf("%s.name is required", s.field)
		}
		if len(s.spec.Subjects) == 0 {
			return fmt.Errorf("%s.subjects must not be empty", s.field)
		}
	}
	if cfg.InputStream.Name == cfg.OutputStream.Name {
		return fmt.Errorf("input and output streams must differ, both are %q", cfg.InputStream.Name)
	}
	if cfg.OutputSubject == "" {
		return errors.New("outputSubject is required")
	}

	c := cfg.Consumer
	if c.Durable == "" {
		return errors.New("consumer.durable is required")
	}
	if c.AckWait < time.Second {
		return fmt.Errorf("consumer.ackWait (%v) must be >= 1s", c.AckWait)
	}
	if c.MaxDeliver == 0 || c.MaxDeliver < -1 {
		return fmt.Errorf("consumer.maxDeliver must be -1 or positive, got %d", c.MaxDeliver)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("consumer.batchSize must be positive, got %d", c.BatchSize)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("consumer.fetchTimeout must be positive, got %v", c.FetchTimeout)
	}
	if c.NakDelay < 0 || cfg.ShutdownTimeout < 0 {
		return errors.New("consumer.nakDelay and shutdownTimeout must not be negative")
	}

	switch cfg.Source.Mode {
	case source.ModeLocal, source.ModeRemote:
	default:
		return fmt.Errorf("source.mode must be %q or %q, got %q", source.ModeLocal, source.ModeRemote, cfg.Source.Mode)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}

	switch cfg.Log.Format {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("log.format must be %q or %q, got %q", logging.FormatConsole, logging.FormatJSON, cfg.Log.Format)
	}

	return nil
}

// ValidateWithWarnings logs warnings for valid but non-recommended values.
//
// This is called after Validate() in NewWorker() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.Consumer.FetchTimeout >= cfg.Consumer.AckWait {
		logger.Warn(
			"fetchTimeout is not shorter than ackWait",
			"fetchTimeout", cfg.Consumer.FetchTimeout,
			"ackWait", cfg.Consumer.AckWait,
		)
	}

	if !stream.Captures(cfg.OutputStream.Subjects, cfg.OutputSubject) {
		logger.Warn(
			"outputSubject is not captured by the output stream, envelopes will not be persisted",
			"outputSubject", cfg.OutputSubject,
			"outputStream", cfg.OutputStream.Name,
			"subjects", cfg.OutputStream.Subjects,
		)
	}

	if cfg.OutputStream.DuplicateWindow < cfg.Consumer.AckWait {
		logger.Warn(
			"outputStream.duplicateWindow is shorter than ackWait, a redelivered job may store its outcome twice",
			"duplicateWindow", cfg.OutputStream.DuplicateWindow,
			"ackWait", cfg.Consumer.AckWait,
		)
	}

	if cfg.ShutdownTimeout > cfg.Consumer.AckWait {
		logger.Warn(
			"shutdownTimeout exceeds ackWait, unfinished jobs may be delivered twice",
			"shutdownTimeout", cfg.ShutdownTimeout,
			"ackWait", cfg.Consumer.AckWait,
		)
	}

	if cfg.Consumer.MaxDeliver == -1 {
		logger.Warn("consumer.maxDeliver is unlimited, a job whose outcome never publishes is retried forever")
	}
}

// DrainTimeout returns how long in-flight jobs are awaited on shutdown.
func (cfg *Config) DrainTimeout() time.Duration {
	if cfg.ShutdownTimeout > 0 {
		return cfg.ShutdownTimeout
	}

	return cfg.Consumer.AckWait
}

// LoadConfig reads a YAML configuration file, overlays DOCQUEUE_* environment
// variables, applies defaults and validates the result.
//
// The file is decoded over DefaultConfig(), so omitted keys keep their defaults
// and an explicit empty metrics.addr disables the endpoint. Unknown YAML keys are
// rejected. An empty path skips the file.
//
// Parameters:
//   - path: YAML file path, may be empty
//
// Returns:
//   - *Config: Validated configuration
//   - error: Read, parse or validation error
func LoadConfig(path string) (*Config, error) {
	defaults := DefaultConfig()
	cfg := &defaults

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overlays DOCQUEUE_* environment variables onto cfg.
//
// Durations accept Go duration strings ("10m") or plain seconds ("600").
// Lists are comma separated.
//
// Supported variables:
//
//	DOCQUEUE_NATS_URL, DOCQUEUE_NATS_NAME, DOCQUEUE_NATS_CA_FILE,
//	DOCQUEUE_NATS_CERT_FILE, DOCQUEUE_NATS_KEY_FILE,
//	DOCQUEUE_INPUT_STREAM, DOCQUEUE_INPUT_SUBJECTS,
//	DOCQUEUE_OUTPUT_STREAM, DOCQUEUE_OUTPUT_SUBJECTS, DOCQUEUE_OUTPUT_SUBJECT,
//	DOCQUEUE_DURABLE, DOCQUEUE_ACK_WAIT, DOCQUEUE_MAX_DELIVER,
//	DOCQUEUE_FETCH_TIMEOUT, DOCQUEUE_BATCH_SIZE,
//	DOCQUEUE_DOCUMENTS_ROOT, DOCQUEUE_SOURCE_MODE,
//	DOCQUEUE_HEALTH_SUBJECT, DOCQUEUE_VERSION_SUBJECT, DOCQUEUE_VERSION_QUEUE_GROUP,
//	DOCQUEUE_WORKERS, DOCQUEUE_LOG_LEVEL, DOCQUEUE_LOG_FORMAT,
//	DOCQUEUE_METRICS_ADDR, DOCQUEUE_SHUTDOWN_TIMEOUT
//
// Returns:
//   - error: ErrInvalidConfig wrapped with the offending variable on parse failure
func ApplyEnv(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookupEnv(name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookupEnv(name); ok {
			*dst = splitList(v)
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookupEnv(name); ok {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("NATS_URL", &cfg.Broker.URL)
	str("NATS_NAME", &cfg.Broker.Name)
	str("NATS_CA_FILE", &cfg.Broker.CAFile)
	str("NATS_CERT_FILE", &cfg.Broker.CertFile)
	str("NATS_KEY_FILE", &cfg.Broker.KeyFile)

	str("INPUT_STREAM", &cfg.InputStream.Name)
	list("INPUT_SUBJECTS", &cfg.InputStream.Subjects)
	str("OUTPUT_STREAM", &cfg.OutputStream.Name)
	list("OUTPUT_SUBJECTS", &cfg.OutputStream.Subjects)
	str("OUTPUT_SUBJECT", &cfg.OutputSubject)

	str("DURABLE", &cfg.Consumer.Durable)
	dur("ACK_WAIT", &cfg.Consumer.AckWait)
	num("MAX_DELIVER", &cfg.Consumer.MaxDeliver)
	dur("FETCH_TIMEOUT", &cfg.Consumer.FetchTimeout)
	num("BATCH_SIZE", &cfg.Consumer.BatchSize)

	str("DOCUMENTS_ROOT", &cfg.Source.DocumentsRoot)
	if v, ok := lookupEnv("SOURCE_MODE"); ok {
		cfg.Source.Mode = source.Mode(strings.ToLower(v))
	}

	str("HEALTH_SUBJECT", &cfg.Introspection.HealthSubject)
	str("VERSION_SUBJECT", &cfg.Introspection.VersionSubject)
	str("VERSION_QUEUE_GROUP", &cfg.Introspection.VersionQueueGroup)

	num("WORKERS", &cfg.Workers)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("METRICS_ADDR", &cfg.Metrics.Addr)
	dur("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Streams use memory storage and timings are short enough for redelivery to be
// observed within a test. Use DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.InputStream.Storage = "memory"
	cfg.OutputStream.Storage = "memory"
	cfg.Consumer.AckWait = 2 * time.Second
	cfg.Consumer.FetchTimeout = 200 * time.Millisecond
	cfg.Consumer.NakDelay = 100 * time.Millisecond
	cfg.Source.Mode = source.ModeRemote
	cfg.Source.DocumentsRoot = ""
	cfg.Workers = 4
	cfg.Metrics.Addr = ""
	cfg.ShutdownTimeout = 2 * time.Second

	return cfg
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)

	return v, v != ""
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// parseDuration accepts "90s" style strings and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	return time.ParseDuration(v)
}
