// Package broker owns the NATS connection shared by every docqueue component.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/types"
)

// Default connection settings.
const (
	DefaultURL            = nats.DefaultURL
	DefaultClientName     = "docqueue"
	DefaultConnectTimeout = 5 * time.Second
	DefaultReconnectWait  = 2 * time.Second
	DefaultMaxReconnects  = -1 // reconnect forever
)

// ErrTLSConfig is returned when only one of a client certificate and key is configured.
var ErrTLSConfig = errors.New("broker: client certificate and key must be configured together")

// Config describes how to reach the NATS server.
type Config struct {
	// URL is a comma separated list of server URLs.
	URL string `yaml:"url"`

	// Name is the client name reported to the server.
	Name string `yaml:"name"`

	// CAFile is a PEM bundle used to verify the server certificate.
	CAFile string `yaml:"caFile"`

	// CertFile and KeyFile enable mutual TLS when both are set.
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`

	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	ReconnectWait  time.Duration `yaml:"reconnectWait"`

	// MaxReconnects is the number of reconnect attempts, -1 for unlimited.
	MaxReconnects int `yaml:"maxReconnects"`
}

// ApplyDefaults fills zero values with the package defaults.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Name == "" {
		c.Name = DefaultClientName
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = DefaultReconnectWait
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = DefaultMaxReconnects
	}
}

// Validate checks the TLS file combination.
func (c *Config) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return ErrTLSConfig
	}

	return nil
}

// Connection is a NATS connection plus its JetStream context.
//
// A Connection is safe for concurrent use; every component of a worker shares one.
type Connection struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	owned  bool
	logger types.Logger
}

// Connect dials the server described by cfg.
//
// Connection lifecycle events (disconnect, reconnect, close, async errors) are logged.
// A failure to connect is fatal for the worker and wraps types.ErrConnectivity.
//
// Parameters:
//   - cfg: Connection settings; zero values take the package defaults
//   - logger: Logger for lifecycle events (nil disables logging)
//
// Returns:
//   - *Connection: Connected broker handle, closed by Close or Drain
//   - error: ErrTLSConfig or a wrapped types.ErrConnectivity
func Connect(cfg Config, logger types.Logger) (*Connection, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("broker disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("broker reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("broker connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("broker async error", "subject", subject, "error", err)
		}),
	}
	if cfg.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.CAFile))
	}
	if cfg.CertFile != "" {
		opts = append(opts, nats.ClientCert(cfg.CertFile, cfg.KeyFile))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %w", types.ErrConnectivity, cfg.URL, err)
	}

	conn, err := newConnection(nc, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	conn.owned = true
	logger.Info("broker connected", "url", nc.ConnectedUrlRedacted(), "name", cfg.Name)

	return conn, nil
}

// FromConn wraps an existing connection.
//
// The caller keeps ownership: Close and Drain leave nc open.
func FromConn(nc *nats.Conn, logger types.Logger) (*Connection, error) {
	if nc == nil {
		return nil, types.ErrNATSConnectionRequired
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return newConnection(nc, logger)
}

func newConnection(nc *nats.Conn, logger types.Logger) (*Connection, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Connection{nc: nc, js: js, logger: logger}, nil
}

// Conn returns the underlying NATS connection.
func (c *Connection) Conn() *nats.Conn {
	return c.nc
}

// JetStream returns the JetStream context bound to the connection.
func (c *Connection) JetStream() jetstream.JetStream {
	return c.js
}

// IsConnected reports whether the connection is currently up.
func (c *Connection) IsConnected() bool {
	return c.nc.IsConnected()
}

// Close closes the connection if it was opened by Connect.
func (c *Connection) Close() {
	if c.owned {
		c.nc.Close()
	}
}

// Drain flushes pending publishes and unsubscribes, then closes the connection.
//
// It waits until the drain completes or ctx is done, whichever comes first. Borrowed
// connections (FromConn) are left untouched.
func (c *Connection) Drain(ctx context.Context) error {
	if !c.owned {
		return nil
	}

	closed := make(chan struct{})
	c.nc.SetClosedHandler(func(_ *nats.Conn) {
		c.logger.Info("broker connection drained")
		close(closed)
	})

	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return fmt.Errorf("drain connection: %w", err)
	}

	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		c.nc.Close()
		return ctx.Err()
	}
}
