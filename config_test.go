package docqueue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/docqueue/internal/logging"
	"github.com/arloliu/docqueue/source"
	dqtest "github.com/arloliu/docqueue/testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, "DOCUMENT_JOBS", cfg.InputStream.Name)
	require.Equal(t, []string{"docqueue.jobs.>"}, cfg.InputStream.Subjects)
	require.Equal(t, 30*24*time.Hour, cfg.InputStream.MaxAge)
	require.Equal(t, "DOCUMENT_RESULTS", cfg.OutputStream.Name)
	require.Equal(t, "docqueue-workers", cfg.Consumer.Durable)
	require.Equal(t, 600*time.Second, cfg.Consumer.AckWait)
	require.Equal(t, 3, cfg.Consumer.MaxDeliver)
	require.Equal(t, 1, cfg.Consumer.BatchSize)
	require.Equal(t, 5*time.Second, cfg.Consumer.FetchTimeout)
	require.Equal(t, source.ModeLocal, cfg.Source.Mode)
	require.Equal(t, "docqueue.health", cfg.Introspection.HealthSubject)
	require.Equal(t, logging.FormatConsole, cfg.Log.Format)

	require.NoError(t, cfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.Equal(t, "DOCUMENT_JOBS", cfg.InputStream.Name)
		require.Equal(t, "docqueue.results.default", cfg.OutputSubject)
		require.Equal(t, 600*time.Second, cfg.Consumer.AckWait)
		require.Equal(t, "documents", cfg.Source.DocumentsRoot)
		require.Equal(t, "docqueue.version", cfg.Introspection.VersionSubject)
		require.Equal(t, 30*time.Minute, cfg.OutputStream.DuplicateWindow, "ackWait x maxDeliver")
		require.Equal(t, 2*time.Minute, cfg.InputStream.DuplicateWindow)
		require.Empty(t, cfg.Metrics.Addr)
		require.NoError(t, cfg.Validate())
	})

	t.Run("preserves custom values", func(t *testing.T) {
		cfg := Config{
			OutputSubject: "results.custom",
			Consumer: ConsumerConfig{
				Durable:      "ocr",
				AckWait:      time.Minute,
				MaxDeliver:   -1,
				BatchSize:    8,
				FetchTimeout: time.Second,
			},
			Source: source.Config{Mode: source.ModeRemote},
		}
		SetDefaults(&cfg)

		require.Equal(t, "results.custom", cfg.OutputSubject)
		require.Equal(t, "ocr", cfg.Consumer.Durable)
		require.Equal(t, time.Minute, cfg.Consumer.AckWait)
		require.Equal(t, -1, cfg.Consumer.MaxDeliver)
		require.Equal(t, 3*time.Minute, cfg.OutputStream.DuplicateWindow)
		require.Equal(t, 8, cfg.Consumer.BatchSize)
		require.Equal(t, source.ModeRemote, cfg.Source.Mode)
		require.Empty(t, cfg.Source.DocumentsRoot)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing input stream name", func(c *Config) { c.InputStream.Name = "" }},
		{"missing output subjects", func(c *Config) { c.OutputStream.Subjects = nil }},
		{"same stream twice", func(c *Config) { c.OutputStream.Name = c.InputStream.Name }},
		{"missing output subject", func(c *Config) { c.OutputSubject = "" }},
		{"missing durable", func(c *Config) { c.Consumer.Durable = "" }},
		{"ack wait too short", func(c *Config) { c.Consumer.AckWait = 500 * time.Millisecond }},
		{"zero max deliver", func(c *Config) { c.Consumer.MaxDeliver = 0 }},
		{"negative max deliver", func(c *Config) { c.Consumer.MaxDeliver = -2 }},
		{"zero batch size", func(c *Config) { c.Consumer.BatchSize = 0 }},
		{"zero fetch timeout", func(c *Config) { c.Consumer.FetchTimeout = 0 }},
		{"unknown source mode", func(c *Config) { c.Source.Mode = "ftp" }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"cert without key", func(c *Config) { c.Broker.CertFile = "client.pem" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("unlimited deliveries are valid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Consumer.MaxDeliver = -1
		require.NoError(t, cfg.Validate())
	})
}

func TestConfig_DrainTimeout(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, cfg.Consumer.AckWait, cfg.DrainTimeout())

	cfg.ShutdownTimeout = 30 * time.Second
	require.Equal(t, 30*time.Second, cfg.DrainTimeout())
}

// TestConfig_YAML demonstrates that time.Duration works directly with YAML unmarshaling
func TestConfig_YAML(t *testing.T) {
	yamlConfig := `
broker:
  url: nats://nats:4222
  name: ocr-worker
inputStream:
  name: OCR_JOBS
  subjects: ["ocr.jobs.>"]
  maxAge: 72h
outputStream:
  name: OCR_RESULTS
  subjects: ["ocr.results.>"]
outputSubject: ocr.results.done
consumer:
  durable: ocr
  ackWait: 10m
  maxDeliver: 5
  batchSize: 4
  fetchTimeout: 2s
source:
  mode: remote
workers: 2
introspection:
  healthSubject: ocr.health
log:
  level: debug
  format: json
shutdownTimeout: 45s
`

	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(yamlConfig), &cfg))

	require.Equal(t, "nats://nats:4222", cfg.Broker.URL)
	require.Equal(t, "OCR_JOBS", cfg.InputStream.Name)
	require.Equal(t, 72*time.Hour, cfg.InputStream.MaxAge)
	require.Equal(t, []string{"ocr.results.>"}, cfg.OutputStream.Subjects)
	require.Equal(t, 10*time.Minute, cfg.Consumer.AckWait)
	require.Equal(t, 5, cfg.Consumer.MaxDeliver)
	require.Equal(t, 2*time.Second, cfg.Consumer.FetchTimeout)
	require.Equal(t, source.ModeRemote, cfg.Source.Mode)
	require.Equal(t, "ocr.health", cfg.Introspection.HealthSubject)
	require.Equal(t, logging.FormatJSON, cfg.Log.Format)
	require.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "partial.yaml")
		require.NoError(t, os.WriteFile(path, []byte("consumer:\n  ackWait: 2m\nmetrics:\n  addr: \"\"\n"), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, 2*time.Minute, cfg.Consumer.AckWait)
		require.Equal(t, 3, cfg.Consumer.MaxDeliver)
		require.Equal(t, 6*time.Minute, cfg.OutputStream.DuplicateWindow, "derived from the loaded ackWait")
		require.Equal(t, "DOCUMENT_JOBS", cfg.InputStream.Name)
		require.Empty(t, cfg.Metrics.Addr)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, ":9090", cfg.Metrics.Addr)
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		path := filepath.Join(dir, "unknown.yaml")
		require.NoError(t, os.WriteFile(path, []byte("consumr:\n  durable: x\n"), 0o600))

		_, err := LoadConfig(path)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(dir, "nope.yaml"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := filepath.Join(dir, "env.yaml")
		require.NoError(t, os.WriteFile(path, []byte("consumer:\n  durable: from-file\n"), 0o600))
		t.Setenv("DOCQUEUE_DURABLE", "from-env")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, "from-env", cfg.Consumer.Durable)
	})

	t.Run("invalid result", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("source:\n  mode: ftp\n"), 0o600))

		_, err := LoadConfig(path)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DOCQUEUE_NATS_URL", "nats://broker:4222")
	t.Setenv("DOCQUEUE_INPUT_SUBJECTS", "a.>, b.* ,")
	t.Setenv("DOCQUEUE_OUTPUT_SUBJECT", "results.x")
	t.Setenv("DOCQUEUE_ACK_WAIT", "600")
	t.Setenv("DOCQUEUE_FETCH_TIMEOUT", "1500ms")
	t.Setenv("DOCQUEUE_MAX_DELIVER", "5")
	t.Setenv("DOCQUEUE_SOURCE_MODE", "REMOTE")
	t.Setenv("DOCQUEUE_WORKERS", "3")
	t.Setenv("DOCQUEUE_LOG_FORMAT", "json")
	t.Setenv("DOCQUEUE_VERSION_QUEUE_GROUP", "  ")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(&cfg))

	require.Equal(t, "nats://broker:4222", cfg.Broker.URL)
	require.Equal(t, []string{"a.>", "b.*"}, cfg.InputStream.Subjects)
	require.Equal(t, "results.x", cfg.OutputSubject)
	require.Equal(t, 600*time.Second, cfg.Consumer.AckWait)
	require.Equal(t, 1500*time.Millisecond, cfg.Consumer.FetchTimeout)
	require.Equal(t, 5, cfg.Consumer.MaxDeliver)
	require.Equal(t, source.ModeRemote, cfg.Source.Mode)
	require.Equal(t, 3, cfg.Workers)
	require.Equal(t, logging.FormatJSON, cfg.Log.Format)
	require.Equal(t, "docqueue-version", cfg.Introspection.VersionQueueGroup, "blank values are ignored")
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Setenv("DOCQUEUE_ACK_WAIT", "soon")
	t.Setenv("DOCQUEUE_BATCH_SIZE", "many")

	cfg := DefaultConfig()
	err := ApplyEnv(&cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.ErrorContains(t, err, "DOCQUEUE_ACK_WAIT")
	require.ErrorContains(t, err, "DOCQUEUE_BATCH_SIZE")
}

func TestConfig_ValidateWithWarnings(t *testing.T) {
	t.Run("defaults are quiet", func(t *testing.T) {
		cfg := DefaultConfig()
		SetDefaults(&cfg)
		logger := dqtest.NewTestLogger(t)

		cfg.ValidateWithWarnings(logger)
		require.Empty(t, logger.Messages("WARN"))
	})

	t.Run("non-recommended values", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.OutputSubject = "elsewhere.results"
		cfg.Consumer.MaxDeliver = -1
		cfg.OutputStream.DuplicateWindow = 2 * time.Minute
		cfg.ShutdownTimeout = time.Hour
		SetDefaults(&cfg)
		logger := dqtest.NewTestLogger(t)

		cfg.ValidateWithWarnings(logger)
		warnings := strings.Join(logger.Messages("WARN"), "\n")
		require.Contains(t, warnings, "outputSubject is not captured")
		require.Contains(t, warnings, "maxDeliver is unlimited")
		require.Contains(t, warnings, "duplicateWindow is shorter than ackWait")
		require.Contains(t, warnings, "shutdownTimeout exceeds ackWait")

		cfg.ValidateWithWarnings(logging.NewNop())
	})
}

func TestOutcomeDedupWindow(t *testing.T) {
	tests := []struct {
		name     string
		consumer ConsumerConfig
		maxAge   time.Duration
		want     time.Duration
	}{
		{"covers every delivery", ConsumerConfig{AckWait: 10 * time.Minute, MaxDeliver: 3}, 0, 30 * time.Minute},
		{"unlimited deliveries use the default count", ConsumerConfig{AckWait: time.Minute, MaxDeliver: -1}, 0, 3 * time.Minute},
		{"capped by max age", ConsumerConfig{AckWait: time.Hour, MaxDeliver: 5}, 2 * time.Hour, 2 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, outcomeDedupWindow(tt.consumer, tt.maxAge))
		})
	}
}
