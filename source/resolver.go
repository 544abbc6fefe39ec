package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/types"
)

// Mode selects how file:// URIs are interpreted.
type Mode string

const (
	// ModeLocal resolves file:// URIs relative to DocumentsRoot.
	ModeLocal Mode = "local"
	// ModeRemote resolves file:// URIs as absolute paths on a shared mount.
	ModeRemote Mode = "remote"
)

// Defaults for Config.
const (
	DefaultMaxBytes    int64 = 64 << 20
	DefaultHTTPTimeout       = 2 * time.Minute
)

// ErrInvalidMode is returned by NewResolver for an unknown Mode.
var ErrInvalidMode = errors.New("source: mode must be local or remote")

// Config configures a Resolver.
type Config struct {
	// Mode defaults to ModeLocal.
	Mode Mode `yaml:"mode"`

	// DocumentsRoot is the base directory for ModeLocal.
	DocumentsRoot string `yaml:"documentsRoot"`

	// MaxBytes bounds a single document. Defaults to 64 MiB.
	MaxBytes int64 `yaml:"maxBytes"`

	// HTTPTimeout bounds one download when the default client is used.
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeLocal
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		if c != nil {
			r.client = c
		}
	}
}

// WithFS replaces the filesystem used for file:// URIs.
func WithFS(fs afero.Fs) Option {
	return func(r *Resolver) {
		if fs != nil {
			r.fs = fs
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Resolver turns a source URI into document bytes.
//
// A Resolver is safe for concurrent use.
type Resolver struct {
	cfg    Config
	root   string
	client *http.Client
	fs     afero.Fs
	logger types.Logger
}

// NewResolver creates a resolver.
//
// Parameters:
//   - cfg: Resolver configuration; zero values take defaults
//   - opts: Optional HTTP client, filesystem and logger overrides
//
// Returns:
//   - *Resolver: Ready to use resolver
//   - error: ErrInvalidMode for an unknown mode
func NewResolver(cfg Config, opts ...Option) (*Resolver, error) {
	cfg.applyDefaults()
	if cfg.Mode != ModeLocal && cfg.Mode != ModeRemote {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}

	r := &Resolver{
		cfg:    cfg,
		root:   filepath.Clean(cfg.DocumentsRoot),
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		fs:     afero.NewOsFs(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Mode returns the configured file mode.
func (r *Resolver) Mode() Mode {
	return r.cfg.Mode
}

// Resolve returns the bytes referenced by uri.
//
// Returns:
//   - []byte: Document content
//   - error: *types.JobError of kind download-error, file-read-error or unsupported-uri
func (r *Resolver) Resolve(ctx context.Context, uri string) ([]byte, error) {
	scheme, rest, ok := splitScheme(uri)
	if !ok {
		return nil, types.Errorf(types.KindUnsupportedURI, "unsupported source uri %q", uri)
	}

	switch scheme {
	case "http", "https":
		return r.download(ctx, uri)
	case "file":
		return r.readFile(rest)
	default:
		return nil, types.Errorf(types.KindUnsupportedURI, "unsupported source uri scheme %q", scheme)
	}
}

func (r *Resolver) download(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, types.Errorf(types.KindDownload, "build request for %s: %w", uri, err)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, types.Errorf(types.KindDownload, "download %s: %w", uri, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &types.JobError{
			Kind:       types.KindDownload,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("download %s: unexpected status %d", uri, resp.StatusCode),
		}
	}

	data, err := readLimited(resp.Body, r.cfg.MaxBytes)
	if err != nil {
		return nil, types.Errorf(types.KindDownload, "download %s: %w", uri, err)
	}
	r.logger.Debug("document downloaded", "uri", uri, "bytes", len(data), "elapsed", time.Since(start))

	return data, nil
}

func (r *Resolver) readFile(rest string) ([]byte, error) {
	path, err := r.filePath(rest)
	if err != nil {
		return nil, types.NewJobError(types.KindFileRead, err)
	}

	f, err := r.fs.Open(path)
	if err != nil {
		return nil, types.Errorf(types.KindFileRead, "open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	data, err := readLimited(f, r.cfg.MaxBytes)
	if err != nil {
		return nil, types.Errorf(types.KindFileRead, "read %s: %w", path, err)
	}
	r.logger.Debug("document read", "path", path, "bytes", len(data))

	return data, nil
}

// filePath maps the part of a file:// URI after the scheme to a filesystem path.
func (r *Resolver) filePath(rest string) (string, error) {
	if unescaped, err := url.PathUnescape(rest); err == nil {
		rest = unescaped
	}
	if rest == "" {
		return "", errors.New("empty file path")
	}

	if r.cfg.Mode == ModeRemote {
		if !strings.HasPrefix(rest, "/") {
			return "", fmt.Errorf("remote file path %q must be absolute", rest)
		}

		return filepath.Clean(rest), nil
	}

	target := filepath.Join(r.root, rest)
	rel, err := filepath.Rel(r.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file path %q escapes documents root", rest)
	}

	return target, nil
}

// splitScheme returns the lower-cased scheme and the remainder after "://".
func splitScheme(uri string) (string, string, bool) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(uri), "://")
	if !found || scheme == "" {
		return "", "", false
	}

	return strings.ToLower(scheme), rest, true
}

// readLimited reads at most limit bytes and fails if the source holds more.
func readLimited(rd io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(rd, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("document exceeds %d bytes", limit)
	}

	return data, nil
}
