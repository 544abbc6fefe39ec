package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dqtest "github.com/arloliu/docqueue/testing"
	"github.com/arloliu/docqueue/types"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	require.Equal(t, DefaultURL, cfg.URL)
	require.Equal(t, DefaultClientName, cfg.Name)
	require.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	require.Equal(t, DefaultReconnectWait, cfg.ReconnectWait)
	require.Equal(t, DefaultMaxReconnects, cfg.MaxReconnects)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, (&Config{}).Validate())
	require.NoError(t, (&Config{CertFile: "c.pem", KeyFile: "k.pem"}).Validate())
	require.ErrorIs(t, (&Config{CertFile: "c.pem"}).Validate(), ErrTLSConfig)
	require.ErrorIs(t, (&Config{KeyFile: "k.pem"}).Validate(), ErrTLSConfig)
}

func TestConnect(t *testing.T) {
	ns, _ := dqtest.StartEmbeddedNATS(t)

	conn, err := Connect(Config{URL: ns.ClientURL(), Name: "ocr-worker"}, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.True(t, conn.IsConnected())
	require.NotNil(t, conn.JetStream())

	_, err = conn.JetStream().AccountInfo(t.Context())
	require.NoError(t, err)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(Config{
		URL:            "nats://127.0.0.1:1",
		ConnectTimeout: 200 * time.Millisecond,
	}, nil)

	require.ErrorIs(t, err, types.ErrConnectivity)
}

func TestConnect_MissingKey(t *testing.T) {
	_, err := Connect(Config{CertFile: "client.pem"}, nil)
	require.ErrorIs(t, err, ErrTLSConfig)
}

func TestFromConn(t *testing.T) {
	_, nc := dqtest.StartEmbeddedNATS(t)

	_, err := FromConn(nil, nil)
	require.ErrorIs(t, err, types.ErrNATSConnectionRequired)

	conn, err := FromConn(nc, nil)
	require.NoError(t, err)

	// Borrowed connections survive Close and Drain.
	conn.Close()
	require.NoError(t, conn.Drain(t.Context()))
	require.True(t, nc.IsConnected())
}

func TestDrain(t *testing.T) {
	ns, _ := dqtest.StartEmbeddedNATS(t)

	conn, err := Connect(Config{URL: ns.ClientURL()}, dqtest.NewTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Drain(ctx))
	require.True(t, conn.Conn().IsClosed())
}
