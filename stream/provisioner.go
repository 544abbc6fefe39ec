// Package stream provisions the JetStream streams that carry jobs and outcomes.
//
// Streams are created with work-queue retention: a message is removed once a
// consumer acknowledges it. The provisioner never deletes or shrinks a stream;
// it only creates missing streams and extends the subject list of existing ones.
package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/internal/metrics"
	"github.com/arloliu/docqueue/types"
)

// Defaults applied to zero Spec fields.
const (
	DefaultMaxAge          = 30 * 24 * time.Hour
	DefaultDuplicateWindow = 2 * time.Minute
	DefaultMaxRetries      = 3
)

// Spec describes a stream to provision.
type Spec struct {
	// Name is the stream name.
	Name string `yaml:"name"`

	// Subjects the stream must capture. Existing streams are extended, never narrowed.
	Subjects []string `yaml:"subjects"`

	// MaxAge bounds how long an unconsumed job is kept. Defaults to 30 days.
	MaxAge time.Duration `yaml:"maxAge"`

	// DuplicateWindow is the Nats-Msg-Id dedup window. Defaults to 2 minutes.
	DuplicateWindow time.Duration `yaml:"duplicateWindow"`

	// Storage is "file" (default) or "memory".
	Storage string `yaml:"storage"`

	// Replicas defaults to 1.
	Replicas int `yaml:"replicas"`
}

func (s *Spec) applyDefaults() {
	if s.MaxAge <= 0 {
		s.MaxAge = DefaultMaxAge
	}
	if s.DuplicateWindow <= 0 {
		s.DuplicateWindow = DefaultDuplicateWindow
	}
	if s.Replicas <= 0 {
		s.Replicas = 1
	}
}

func (s *Spec) storageType() jetstream.StorageType {
	if strings.EqualFold(s.Storage, "memory") {
		return jetstream.MemoryStorage
	}

	return jetstream.FileStorage
}

func (s *Spec) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       s.Name,
		Subjects:   slices.Clone(s.Subjects),
		Retention:  jetstream.WorkQueuePolicy,
		Discard:    jetstream.DiscardNew,
		MaxAge:     s.MaxAge,
		Duplicates: s.DuplicateWindow,
		Storage:    s.storageType(),
		Replicas:   s.Replicas,
	}
}

// Provisioner creates and extends streams idempotently.
//
// Multiple workers may provision the same stream concurrently; a lost create race
// is resolved by re-reading the stream the winner created.
type Provisioner struct {
	js         jetstream.JetStream
	logger     types.Logger
	metrics    types.MetricsCollector
	maxRetries int
}

// NewProvisioner creates a provisioner on js.
//
// Parameters:
//   - js: JetStream context
//   - logger: Logger (nil disables logging)
//   - metrics: Metrics collector (nil disables metrics)
//
// Returns:
//   - *Provisioner: Provisioner retrying transient failures DefaultMaxRetries times
func NewProvisioner(js jetstream.JetStream, logger types.Logger, m types.MetricsCollector) *Provisioner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &Provisioner{js: js, logger: logger, metrics: m, maxRetries: DefaultMaxRetries}
}

// WithMaxRetries sets the number of attempts for transient failures.
func (p *Provisioner) WithMaxRetries(n int) *Provisioner {
	if n > 0 {
		p.maxRetries = n
	}

	return p
}

// EnsureStream makes sure a stream matching spec exists.
//
// If the stream is absent it is created with work-queue retention, discard-new,
// spec.MaxAge and spec.DuplicateWindow. If it exists but misses some of
// spec.Subjects, the subject list is extended with one update. Calling EnsureStream
// again with the same spec does not modify the stream.
//
// Transient failures are retried with exponential backoff (10ms, 20ms, 40ms...).
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - spec: Stream definition
//
// Returns:
//   - jetstream.Stream: Handle to the provisioned stream
//   - error: Wrapped types.ErrStreamProvision after all attempts failed
func (p *Provisioner) EnsureStream(ctx context.Context, spec Spec) (jetstream.Stream, error) {
	if spec.Name == "" || len(spec.Subjects) == 0 {
		return nil, fmt.Errorf("%w: stream name and subjects are required", types.ErrStreamProvision)
	}
	spec.applyDefaults()

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		stream, err := p.ensureOnce(ctx, spec)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", types.ErrStreamProvision, spec.Name, ctx.Err())
		}

		if attempt < p.maxRetries-1 {
			p.metrics.RecordControlRetry("ensure_stream")
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is bounded by maxRetries
			p.logger.Debug("retrying stream provisioning", "stream", spec.Name, "attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %w", types.ErrStreamProvision, spec.Name, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %w", types.ErrStreamProvision, spec.Name, p.maxRetries, lastErr)
}

func (p *Provisioner) ensureOnce(ctx context.Context, spec Spec) (jetstream.Stream, error) {
	stream, err := p.js.Stream(ctx, spec.Name)
	switch {
	case err == nil:
		return p.extendSubjects(ctx, stream, spec)
	case errors.Is(err, jetstream.ErrStreamNotFound):
		// fall through to create
	default:
		return nil, fmt.Errorf("lookup stream: %w", err)
	}

	stream, err = p.js.CreateStream(ctx, spec.streamConfig())
	if err == nil {
		p.logger.Info("stream created", "stream", spec.Name, "subjects", spec.Subjects)
		return stream, nil
	}
	if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		// Lost the race against another worker; adopt its stream.
		stream, err = p.js.Stream(ctx, spec.Name)
		if err != nil {
			return nil, fmt.Errorf("re-read stream after concurrent create: %w", err)
		}

		return p.extendSubjects(ctx, stream, spec)
	}

	return nil, fmt.Errorf("create stream: %w", err)
}

func (p *Provisioner) extendSubjects(ctx context.Context, stream jetstream.Stream, spec Spec) (jetstream.Stream, error) {
	info := stream.CachedInfo()
	if info == nil {
		var err error
		info, err = stream.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("stream info: %w", err)
		}
	}

	merged, changed := unionSubjects(info.Config.Subjects, spec.Subjects)
	if !changed {
		return stream, nil
	}

	cfg := info.Config
	cfg.Subjects = merged
	updated, err := p.js.UpdateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("extend stream subjects: %w", err)
	}
	p.logger.Info("stream subjects extended", "stream", spec.Name, "subjects", merged)

	return updated, nil
}

// unionSubjects appends the subjects of required that existing does not already
// capture. Order of existing is preserved.
func unionSubjects(existing, required []string) ([]string, bool) {
	merged := slices.Clone(existing)
	changed := false
	for _, subj := range required {
		if slices.ContainsFunc(merged, func(have string) bool { return subjectCovers(have, subj) }) {
			continue
		}
		merged = append(merged, subj)
		changed = true
	}

	return merged, changed
}

// subjectCovers reports whether every subject matched by subj is also matched by pattern.
func subjectCovers(pattern, subj string) bool {
	if pattern == subj {
		return true
	}

	pt := strings.Split(pattern, ".")
	st := strings.Split(subj, ".")
	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		switch {
		case tok == "*":
			if st[i] == ">" {
				return false
			}
		case tok != st[i]:
			return false
		}
	}

	return len(pt) == len(st)
}

// Captures reports whether a stream listening on subjects would store messages
// published to subj.
func Captures(subjects []string, subj string) bool {
	return slices.ContainsFunc(subjects, func(have string) bool { return subjectCovers(have, subj) })
}
