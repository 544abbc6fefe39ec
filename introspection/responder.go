// Package introspection answers health and version queries over NATS.
//
// Each worker instance subscribes to:
//
//	<HealthSubject>.>            health wildcard
//	<VersionSubject>             version, queue group: one instance answers
//
// On the wildcard an instance answers <HealthSubject>.<hostname> for its own
// hostname and <HealthSubject>.all, the broadcast, which every instance answers.
// A broadcast request collects one reply per instance, so callers should use a
// request-many pattern (subscribe to an inbox and wait) instead of a single request.
package introspection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/internal/natsutil"
	"github.com/arloliu/docqueue/types"
)

// Health status values.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Defaults for Config.
const (
	DefaultHealthSubject     = "docqueue.health"
	DefaultVersionSubject    = "docqueue.version"
	DefaultVersionQueueGroup = "docqueue-version"
	DefaultCheckTimeout      = 2 * time.Second
)

// BroadcastToken is the subject token after HealthSubject answered by every instance.
const BroadcastToken = "all"

// ErrAlreadyStarted is returned by Start on a running responder.
var ErrAlreadyStarted = errors.New("introspection responder already started")

// Config configures the responder subjects.
type Config struct {
	HealthSubject     string `yaml:"healthSubject"`
	VersionSubject    string `yaml:"versionSubject"`
	VersionQueueGroup string `yaml:"versionQueueGroup"`

	// Version is reported in both responses.
	Version string `yaml:"-"`

	// Hostname overrides os.Hostname().
	Hostname string `yaml:"hostname"`
}

func (c *Config) applyDefaults() {
	if c.HealthSubject == "" {
		c.HealthSubject = DefaultHealthSubject
	}
	if c.VersionSubject == "" {
		c.VersionSubject = DefaultVersionSubject
	}
	if c.VersionQueueGroup == "" {
		c.VersionQueueGroup = DefaultVersionQueueGroup
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			c.Hostname = h
		}
	}
}

// Checker reports the health of one dependency. A non-nil error marks the instance ERROR.
type Checker func(ctx context.Context) error

// Option customizes a Responder.
type Option func(*Responder)

// WithInstanceID sets the instance id reported in responses.
func WithInstanceID(id string) Option {
	return func(r *Responder) { r.instanceID = id }
}

// WithInFlight sets the function reporting the number of jobs being processed.
func WithInFlight(fn func() int) Option {
	return func(r *Responder) {
		if fn != nil {
			r.inFlight = fn
		}
	}
}

// WithChecker registers a named health check.
func WithChecker(name string, fn Checker) Option {
	return func(r *Responder) {
		if fn != nil {
			r.checks[name] = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(r *Responder) {
		if l != nil {
			r.logger = l
		}
	}
}

// Memory is the memory section of a health response.
type Memory struct {
	AllocBytes     uint64 `json:"allocBytes"`
	SysBytes       uint64 `json:"sysBytes"`
	HeapInuseBytes uint64 `json:"heapInuseBytes"`
}

// CPU is the CPU section of a health response.
type CPU struct {
	UserSeconds        float64 `json:"userSeconds"`
	SystemSeconds      float64 `json:"systemSeconds"`
	UtilizationPercent float64 `json:"utilizationPercent"`
}

// Health is the health response.
type Health struct {
	Hostname      string            `json:"hostname"`
	InstanceID    string            `json:"instanceId"`
	Version       string            `json:"version"`
	Status        string            `json:"status"`
	UptimeSeconds float64           `json:"uptimeSeconds"`
	Goroutines    int               `json:"goroutines"`
	InFlight      int               `json:"inFlight"`
	Memory        Memory            `json:"memory"`
	CPU           CPU               `json:"cpu"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// Version is the version response.
type Version struct {
	Version    string `json:"version"`
	GoVersion  string `json:"goVersion"`
	Hostname   string `json:"hostname"`
	InstanceID string `json:"instanceId"`
}

// Responder serves introspection requests. It never changes worker state.
type Responder struct {
	nc         *nats.Conn
	cfg        Config
	instanceID string
	inFlight   func() int
	checks     map[string]Checker
	logger     types.Logger
	startedAt  time.Time

	mu   sync.Mutex
	subs []*nats.Subscription
}

// New creates a responder on nc. Subscriptions are made by Start.
func New(nc *nats.Conn, cfg Config, opts ...Option) (*Responder, error) {
	if nc == nil {
		return nil, types.ErrNATSConnectionRequired
	}
	cfg.applyDefaults()

	r := &Responder{
		nc:        nc,
		cfg:       cfg,
		inFlight:  func() int { return 0 },
		checks:    make(map[string]Checker),
		logger:    logging.NewNop(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// InstanceSubject returns the per-instance health subject.
func (r *Responder) InstanceSubject() string {
	return r.cfg.HealthSubject + "." + natsutil.SanitizeToken(r.cfg.Hostname)
}

// BroadcastSubject returns the health subject answered by every instance.
func (r *Responder) BroadcastSubject() string {
	return r.cfg.HealthSubject + "." + BroadcastToken
}

// Start subscribes to the health and version subjects.
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs != nil {
		return ErrAlreadyStarted
	}

	var subs []*nats.Subscription
	subscribe := func(subject, queue string, handler nats.MsgHandler) error {
		var sub *nats.Subscription
		var err error
		if queue == "" {
			sub, err = r.nc.Subscribe(subject, handler)
		} else {
			sub, err = r.nc.QueueSubscribe(subject, queue, handler)
		}
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)

		return nil
	}

	err := errors.Join(
		subscribe(r.cfg.HealthSubject+".>", "", r.handleHealth),
		subscribe(r.cfg.VersionSubject, r.cfg.VersionQueueGroup, r.handleVersion),
	)
	if err == nil {
		err = r.nc.Flush()
	}
	if err != nil {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}

		return err
	}

	r.subs = subs
	r.logger.Info("introspection responder started",
		"health", r.InstanceSubject(),
		"broadcast", r.BroadcastSubject(),
		"version", r.cfg.VersionSubject)

	return nil
}

// Stop removes the subscriptions. Stopping a stopped responder is a no-op.
func (r *Responder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, s := range r.subs {
		if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	r.subs = nil

	return errors.Join(errs...)
}

// Health builds the current health snapshot.
func (r *Responder) Health(ctx context.Context) Health {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	uptime := time.Since(r.startedAt)
	h := Health{
		Hostname:      r.cfg.Hostname,
		InstanceID:    r.instanceID,
		Version:       r.cfg.Version,
		Status:        StatusOK,
		UptimeSeconds: uptime.Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		InFlight:      r.inFlight(),
		Memory: Memory{
			AllocBytes:     ms.Alloc,
			SysBytes:       ms.Sys,
			HeapInuseBytes: ms.HeapInuse,
		},
		CPU: cpuUsage(uptime),
	}

	if !r.nc.IsConnected() {
		h.Status = StatusError
	}

	if len(r.checks) > 0 {
		h.Checks = make(map[string]string, len(r.checks))
		names := make([]string, 0, len(r.checks))
		for name := range r.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			checkCtx, cancel := context.WithTimeout(ctx, DefaultCheckTimeout)
			err := r.checks[name](checkCtx)
			cancel()
			if err != nil {
				h.Checks[name] = err.Error()
				h.Status = StatusError
			} else {
				h.Checks[name] = "ok"
			}
		}
	}

	return h
}

// VersionInfo builds the version response.
func (r *Responder) VersionInfo() Version {
	return Version{
		Version:    r.cfg.Version,
		GoVersion:  runtime.Version(),
		Hostname:   r.cfg.Hostname,
		InstanceID: r.instanceID,
	}
}

func (r *Responder) handleHealth(msg *nats.Msg) {
	if msg.Subject != r.InstanceSubject() && msg.Subject != r.BroadcastSubject() {
		return
	}
	r.respond(msg, r.Health(context.Background()))
}

func (r *Responder) handleVersion(msg *nats.Msg) {
	r.respond(msg, r.VersionInfo())
}

func (r *Responder) respond(msg *nats.Msg, body any) {
	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(body)
	if err != nil {
		r.logger.Error("failed to encode introspection response", "subject", msg.Subject, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("failed to send introspection response", "subject", msg.Subject, "error", err)
	}
}
